package coop_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/nisekogame/backend/game/character"
	"github.com/nisekogame/backend/game/coop"
	"github.com/nisekogame/backend/game/score"
	mw "github.com/nisekogame/backend/middleware"
	"github.com/nisekogame/backend/model"
	"github.com/nisekogame/backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	chars  *character.Service
	ledger *coop.Ledger
	ids    map[string]int64
}

func setup(t *testing.T, names ...string) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	chars := character.NewService(db, zap.NewNop())
	f := &fixture{
		db:     db,
		chars:  chars,
		ledger: coop.NewLedger(db, chars, nil, zap.NewNop()),
		ids:    map[string]int64{},
	}
	for _, n := range names {
		c, err := chars.Create(context.Background(), n, json.RawMessage(`{"hat_style":1}`))
		require.NoError(t, err)
		f.ids[n] = c.ID
	}
	return f
}

func byName(n string) coop.PlayerRef { return coop.PlayerRef{Name: n} }

func pairCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.CooperativePair{}).Count(&n).Error)
	return n
}

func TestSubmitScore_OnlyHigherReplaces(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	ctx := context.Background()

	res, err := f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 100)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int64(100), res.HighestScore)

	_, err = f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 50)
	assert.ErrorIs(t, err, score.ErrScoreNotHigher)

	_, err = f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 100)
	assert.ErrorIs(t, err, score.ErrScoreNotHigher, "equal score must not replace")

	res, err = f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 150)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, int64(150), res.HighestScore)

	pairs, err := f.ledger.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(150), pairs[0].HighestScore)
	assert.Equal(t, "Alice", pairs[0].Player1.Name)
	assert.Equal(t, "Bob", pairs[0].Player2.Name)
	assert.JSONEq(t, `{"hat_style":1}`, string(pairs[0].Player1.Attributes))
}

func TestSubmitScore_ZeroIsAValidFirstScore(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	res, err := f.ledger.SubmitScore(context.Background(), byName("Alice"), byName("Bob"), 0)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int64(1), pairCount(t, f.db))
}

func TestSubmitScore_ReversedOrderIsSamePair(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	ctx := context.Background()

	_, err := f.ledger.SubmitScore(ctx, byName("Bob"), byName("Alice"), 100)
	require.NoError(t, err)

	_, err = f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 90)
	assert.ErrorIs(t, err, score.ErrScoreNotHigher)

	_, err = f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 120)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pairCount(t, f.db))

	got, err := f.ledger.Get(ctx, byName("Bob"), byName("Alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.HighestScore)
	assert.Equal(t, "Alice", got.Player1.Name)
}

func TestSubmitScore_ByID(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	ctx := context.Background()

	_, err := f.ledger.SubmitScore(ctx,
		coop.PlayerRef{ID: f.ids["Alice"]}, coop.PlayerRef{ID: f.ids["Bob"]}, 70)
	require.NoError(t, err)

	got, err := f.ledger.Get(ctx, byName("Alice"), byName("Bob"))
	require.NoError(t, err)
	assert.Equal(t, int64(70), got.HighestScore)
}

func TestSubmitScore_InvalidPair(t *testing.T) {
	f := setup(t, "Alice")
	_, err := f.ledger.SubmitScore(context.Background(), byName("Alice"), byName("Alice"), 100)
	assert.ErrorIs(t, err, coop.ErrInvalidPair)
	assert.Zero(t, pairCount(t, f.db))
}

func TestSubmitScore_UnknownPlayer(t *testing.T) {
	f := setup(t, "Alice")
	ctx := context.Background()

	_, err := f.ledger.SubmitScore(ctx, byName("Alice"), byName("Zed"), 100)
	assert.ErrorIs(t, err, coop.ErrUnknownPlayer)

	_, err = f.ledger.SubmitScore(ctx, byName("Zed"), byName("Zed"), 100)
	assert.ErrorIs(t, err, coop.ErrUnknownPlayer, "unknown player is checked before pair validity")

	_, err = f.ledger.SubmitScore(ctx, coop.PlayerRef{}, byName("Alice"), 100)
	assert.ErrorIs(t, err, coop.ErrUnknownPlayer)

	assert.Zero(t, pairCount(t, f.db))
}

func TestSubmitScore_NegativeScore(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	ctx := context.Background()

	_, err := f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), -1)
	assert.ErrorIs(t, err, score.ErrInvalidScore)
	assert.Zero(t, pairCount(t, f.db))

	_, err = f.ledger.SubmitScore(ctx, byName("Alice"), byName("Alice"), -1)
	assert.ErrorIs(t, err, coop.ErrInvalidPair, "pair validity is checked before the score")
}

func TestSubmitScore_ConcurrentKeepsMaximum(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	ctx := context.Background()

	scores := []int64{40, 900, 15, 300, 899, 1, 650, 900, 120, 75, 500, 899}
	var wg sync.WaitGroup
	for i, s := range scores {
		wg.Add(1)
		go func(i int, s int64) {
			defer wg.Done()
			a, b := byName("Alice"), byName("Bob")
			if i%2 == 1 {
				a, b = b, a
			}
			_, err := f.ledger.SubmitScore(ctx, a, b, s)
			if err != nil {
				assert.ErrorIs(t, err, score.ErrScoreNotHigher)
			}
		}(i, s)
	}
	wg.Wait()

	assert.Equal(t, int64(1), pairCount(t, f.db))
	got, err := f.ledger.Get(ctx, byName("Alice"), byName("Bob"))
	require.NoError(t, err)
	assert.Equal(t, int64(900), got.HighestScore)
}

func TestGet_PairNotFound(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	_, err := f.ledger.Get(context.Background(), byName("Alice"), byName("Bob"))
	assert.ErrorIs(t, err, coop.ErrPairNotFound)
}

func TestTopN(t *testing.T) {
	f := setup(t, "Alice", "Bob", "Charlie", "Diana", "Eli")
	ctx := context.Background()

	submissions := []struct {
		a, b string
		s    int64
	}{
		{"Alice", "Bob", 300},
		{"Charlie", "Diana", 500},
		{"Alice", "Eli", 300},
		{"Bob", "Diana", 100},
		{"Diana", "Eli", 800},
	}
	for _, sub := range submissions {
		_, err := f.ledger.SubmitScore(ctx, byName(sub.a), byName(sub.b), sub.s)
		require.NoError(t, err)
	}

	top, err := f.ledger.TopN(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)

	want := []coop.PairDetail{
		{HighestScore: 800, Player1: coop.Member{Name: "Diana"}, Player2: coop.Member{Name: "Eli"}},
		{HighestScore: 500, Player1: coop.Member{Name: "Charlie"}, Player2: coop.Member{Name: "Diana"}},
		{HighestScore: 300, Player1: coop.Member{Name: "Alice"}, Player2: coop.Member{Name: "Bob"}},
	}
	ignore := cmpopts.IgnoreFields(coop.PairDetail{}, "ID")
	ignoreAttrs := cmpopts.IgnoreFields(coop.Member{}, "Attributes")
	if diff := cmp.Diff(want, top, ignore, ignoreAttrs); diff != "" {
		t.Errorf("TopN(3) mismatch (-want +got):\n%s", diff)
	}

	// Every top entry is a record from the full listing.
	all, err := f.ledger.ListAll(ctx)
	require.NoError(t, err)
	byID := map[int64]coop.PairDetail{}
	for _, p := range all {
		byID[p.ID] = p
	}
	for _, p := range top {
		full, ok := byID[p.ID]
		require.True(t, ok)
		assert.Empty(t, cmp.Diff(full, p))
	}

	fewer, err := f.ledger.TopN(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, fewer, len(submissions))

	none, err := f.ledger.TopN(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTopN_Empty(t *testing.T) {
	f := setup(t)
	top, err := f.ledger.TopN(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestListAll_EmptyAfterDeleteAll(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	ctx := context.Background()
	_, err := f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 10)
	require.NoError(t, err)

	_, err = f.chars.DeleteAll(ctx)
	require.NoError(t, err)

	pairs, err := f.ledger.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestSubmitScore_Announces(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ps := testutil.SetupTestPubSub(t)
	chars := character.NewService(db, zap.NewNop())
	ledger := coop.NewLedger(db, chars, ps, zap.NewNop())
	ctx := context.Background()

	for _, n := range []string{"Alice", "Bob"} {
		_, err := chars.Create(ctx, n, nil)
		require.NoError(t, err)
	}

	msgs, cancel, err := ps.Subscribe(ctx, coop.ScoreChannel)
	require.NoError(t, err)
	defer cancel()

	_, err = ledger.SubmitScore(ctx, byName("Bob"), byName("Alice"), 42)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, coop.ScoreChannel, msg.Channel)
		assert.JSONEq(t, `{"player1":"Alice","player2":"Bob","highest_score":42,"created":true}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no score event published")
	}

	// Rejected submissions are not announced.
	_, err = ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 10)
	require.ErrorIs(t, err, score.ErrScoreNotHigher)
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected event: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubmitScore_ConcurrentFirstSubmissionsCreateOnce(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := int64(1); i <= 16; i++ {
		wg.Add(1)
		go func(s int64) {
			defer wg.Done()
			res, err := f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), s*10)
			if err != nil {
				assert.ErrorIs(t, err, score.ErrScoreNotHigher)
				return
			}
			if res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, int64(1), pairCount(t, f.db))
}

func TestSubmitScore_UpdatedAtFollowsAcceptedScores(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	ctx := context.Background()
	stored := func() model.CooperativePair {
		var p model.CooperativePair
		require.NoError(t, f.db.First(&p).Error)
		return p
	}

	_, err := f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 100)
	require.NoError(t, err)
	first := stored().UpdatedAt

	time.Sleep(10 * time.Millisecond)
	_, err = f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 60)
	require.ErrorIs(t, err, score.ErrScoreNotHigher)
	assert.True(t, stored().UpdatedAt.Equal(first), "rejected submission must not touch updated_at")

	time.Sleep(10 * time.Millisecond)
	_, err = f.ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 160)
	require.NoError(t, err)
	assert.True(t, stored().UpdatedAt.After(first))
}

func TestCheckPair(t *testing.T) {
	f := setup(t, "Alice", "Bob")
	ctx := context.Background()

	assert.NoError(t, f.ledger.CheckPair(ctx, byName("Bob"), byName("Alice")))
	assert.ErrorIs(t, f.ledger.CheckPair(ctx, byName("Nobody"), byName("Bob")), coop.ErrUnknownPlayer)
	assert.ErrorIs(t, f.ledger.CheckPair(ctx, byName("Nobody"), byName("Nobody")), coop.ErrUnknownPlayer)
	assert.ErrorIs(t, f.ledger.CheckPair(ctx, byName("Alice"), byName("Alice")), coop.ErrInvalidPair)
	assert.Zero(t, pairCount(t, f.db))
}

func TestSubmitScore_LogsTraceID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	core, logs := observer.New(zapcore.InfoLevel)
	chars := character.NewService(db, zap.NewNop())
	ledger := coop.NewLedger(db, chars, nil, zap.New(core))
	ctx := mw.WithTraceID(context.Background(), "trace-42")

	for _, n := range []string{"Alice", "Bob"} {
		_, err := chars.Create(ctx, n, nil)
		require.NoError(t, err)
	}
	_, err := ledger.SubmitScore(ctx, byName("Alice"), byName("Bob"), 7)
	require.NoError(t, err)

	entries := logs.FilterMessage("cooperative score accepted").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "trace-42", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, int64(7), entries[0].ContextMap()["score"])
}
