package rest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	dbadapter "github.com/nisekogame/backend/db"
	"github.com/nisekogame/backend/game/character"
	"github.com/nisekogame/backend/game/coop"
	"github.com/nisekogame/backend/game/score"
	mw "github.com/nisekogame/backend/middleware"
	"go.uber.org/zap"
)

var errInvalidRequest = errors.New("invalid request body")

type errorMapping struct {
	target error
	status int
	kind   string
}

var errorMappings = []errorMapping{
	{character.ErrDuplicateName, http.StatusConflict, mw.KindDuplicateName},
	{character.ErrNotFound, http.StatusNotFound, mw.KindNotFound},
	{coop.ErrPairNotFound, http.StatusNotFound, mw.KindNotFound},
	{coop.ErrUnknownPlayer, http.StatusNotFound, mw.KindUnknownPlayer},
	{coop.ErrInvalidPair, http.StatusBadRequest, mw.KindInvalidPair},
	{score.ErrInvalidScore, http.StatusBadRequest, mw.KindInvalidScore},
	{score.ErrScoreNotHigher, http.StatusBadRequest, mw.KindScoreNotHigher},
	{character.ErrInvalidCharacter, http.StatusBadRequest, mw.KindInvalidRequest},
	{errInvalidRequest, http.StatusBadRequest, mw.KindInvalidRequest},
	{dbadapter.ErrStoreUnavailable, http.StatusServiceUnavailable, mw.KindStoreUnavailable},
}

// classify maps err to an HTTP status and error kind.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.kind
		}
	}
	return http.StatusInternalServerError, mw.KindInternal
}

// respondError writes the JSON error body for err. Internal failures are
// logged and their details are not sent to the client.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.Error("request failed",
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.String("kind", kind),
			zap.Error(err))
		if kind == mw.KindInternal {
			msg = "internal error"
		} else {
			msg = "store unavailable"
		}
	}
	c.JSON(status, gin.H{"error": msg, "kind": kind})
}

// bindError turns a JSON decoding failure into a request error.
func bindError(err error) error {
	return fmt.Errorf("%w: %v", errInvalidRequest, err)
}
