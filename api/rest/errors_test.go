package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	dbadapter "github.com/nisekogame/backend/db"
	"github.com/nisekogame/backend/game/coop"
	"github.com/nisekogame/backend/game/score"
	mw "github.com/nisekogame/backend/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("wrapped: %w", coop.ErrUnknownPlayer), http.StatusNotFound, mw.KindUnknownPlayer},
		{score.ErrScoreNotHigher, http.StatusBadRequest, mw.KindScoreNotHigher},
		{bindError(errors.New("EOF")), http.StatusBadRequest, mw.KindInvalidRequest},
		{dbadapter.Unavailable(errors.New("connection refused")), http.StatusServiceUnavailable, mw.KindStoreUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, mw.KindInternal},
	}
	for _, tc := range cases {
		status, kind := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, kind, tc.err.Error())
	}
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "accepted", outcomeLabel(nil))
	assert.Equal(t, "score_not_higher", outcomeLabel(score.ErrScoreNotHigher))
	assert.Equal(t, "invalid_pair", outcomeLabel(coop.ErrInvalidPair))
	assert.Equal(t, "internal", outcomeLabel(errors.New("boom")))
}

func TestParseScore(t *testing.T) {
	got, err := parseScore(json.RawMessage(`123`))
	require.NoError(t, err)
	assert.Equal(t, int64(123), got)

	got, err = parseScore(json.RawMessage(` -4 `))
	require.NoError(t, err)
	assert.Equal(t, int64(-4), got)

	for _, raw := range []string{``, `null`, `"7"`, `true`, `1.0`, `{}`, `99999999999999999999`} {
		_, err := parseScore(json.RawMessage(raw))
		assert.ErrorIs(t, err, score.ErrInvalidScore, raw)
	}
}
