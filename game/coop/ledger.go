package coop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nisekogame/backend/cache"
	dbadapter "github.com/nisekogame/backend/db"
	"github.com/nisekogame/backend/game/character"
	"github.com/nisekogame/backend/game/score"
	mw "github.com/nisekogame/backend/middleware"
	"github.com/nisekogame/backend/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScoreChannel is the pub/sub channel accepted submissions are announced on.
const ScoreChannel = "coop_score"

// maxUpsertAttempts bounds retries of an upsert the store aborted as a deadlock.
const maxUpsertAttempts = 3

var (
	ErrUnknownPlayer = errors.New("one or both players not found")
	ErrInvalidPair   = errors.New("players cannot be the same")
	ErrPairNotFound  = errors.New("cooperative pair not found")
)

// PlayerRef names a character either by id or by name. ID wins when both are set.
type PlayerRef struct {
	ID   int64
	Name string
}

func (r PlayerRef) String() string {
	if r.ID > 0 {
		return "#" + strconv.FormatInt(r.ID, 10)
	}
	return r.Name
}

// Member is one side of a pair as shown on leaderboards.
type Member struct {
	Name       string         `json:"name"`
	Attributes datatypes.JSON `json:"attributes"`
}

// PairDetail is a ledger record with both characters inlined.
type PairDetail struct {
	ID           int64  `json:"-"`
	HighestScore int64  `json:"highest_score"`
	Player1      Member `json:"player1"`
	Player2      Member `json:"player2"`
}

// Result describes an accepted submission.
type Result struct {
	Player1      string `json:"player1"`
	Player2      string `json:"player2"`
	HighestScore int64  `json:"highest_score"`
	Created      bool   `json:"created"`
}

// Ledger stores the best joint score of every cooperative pair.
type Ledger struct {
	db     *gorm.DB
	chars  *character.Service
	pubsub cache.PubSub
	logger *zap.Logger
}

// NewLedger creates a Ledger. pubsub may be nil, in which case accepted
// scores are not announced.
func NewLedger(db *gorm.DB, chars *character.Service, pubsub cache.PubSub, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, chars: chars, pubsub: pubsub, logger: logger}
}

// SubmitScore records s for the pair (a, b) if no record exists yet or s
// beats the stored score. (a, b) and (b, a) are the same pair. Unknown
// players are reported first, then a same-player pair, then a bad score.
func (l *Ledger) SubmitScore(ctx context.Context, a, b PlayerRef, s int64) (*Result, error) {
	p1, p2, err := l.pair(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if err := score.Validate(s); err != nil {
		return nil, err
	}

	accepted, created, err := l.upsert(ctx, p1.ID, p2.ID, s)
	if err != nil {
		if dbadapter.IsForeignKeyViolation(err) {
			return nil, ErrUnknownPlayer
		}
		return nil, fmt.Errorf("submit score %s/%s: %w", p1.Name, p2.Name, dbadapter.Unavailable(err))
	}
	if !accepted {
		return nil, score.ErrScoreNotHigher
	}

	res := &Result{Player1: p1.Name, Player2: p2.Name, HighestScore: s, Created: created}
	l.logger.Info("cooperative score accepted",
		zap.String("trace_id", mw.TraceIDFromContext(ctx)),
		zap.String("player1", p1.Name),
		zap.String("player2", p2.Name),
		zap.Int64("score", s),
		zap.Bool("created", created))
	l.announce(ctx, res)
	return res, nil
}

// CheckPair returns the error SubmitScore would report for (a, b) before it
// looks at the score: ErrUnknownPlayer, ErrInvalidPair, or nil.
func (l *Ledger) CheckPair(ctx context.Context, a, b PlayerRef) error {
	_, _, err := l.pair(ctx, a, b)
	return err
}

// upsert inserts the pair or raises its score. accepted is false when the
// stored score was not lower. created is true only for the submission that
// inserted the row.
func (l *Ledger) upsert(ctx context.Context, p1, p2, s int64) (accepted, created bool, err error) {
	for attempt := 1; ; attempt++ {
		now := time.Now()
		switch l.db.Dialector.Name() {
		case "postgres":
			accepted, created, err = l.upsertPostgres(ctx, p1, p2, s, now)
		case "mysql":
			accepted, created, err = l.upsertMySQL(ctx, p1, p2, s, now)
		default:
			accepted, created, err = l.upsertSQLite(ctx, p1, p2, s, now)
		}
		if err == nil || attempt == maxUpsertAttempts || !dbadapter.IsDeadlock(err) {
			return accepted, created, err
		}
		l.logger.Debug("score upsert deadlocked, retrying",
			zap.String("trace_id", mw.TraceIDFromContext(ctx)),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
}

// upsertPostgres tells inserts from updates by xmax, which is zero only for
// a freshly inserted tuple.
func (l *Ledger) upsertPostgres(ctx context.Context, p1, p2, s int64, now time.Time) (bool, bool, error) {
	var rows []struct{ Inserted bool }
	err := l.db.WithContext(ctx).Raw(`INSERT INTO cooperative_players (player1_id, player2_id, highest_score, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (player1_id, player2_id) DO UPDATE
SET highest_score = excluded.highest_score, updated_at = excluded.updated_at
WHERE cooperative_players.highest_score < excluded.highest_score
RETURNING (xmax = 0) AS inserted`, p1, p2, s, now).Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return false, false, err
	}
	return true, rows[0].Inserted, nil
}

// upsertMySQL relies on the affected-rows count of ON DUPLICATE KEY UPDATE:
// 1 for an insert, 2 for an update, 0 when the row is unchanged. The DSN
// must not set clientFoundRows. Assignments run left to right, so
// updated_at is compared against the old score before it is raised.
func (l *Ledger) upsertMySQL(ctx context.Context, p1, p2, s int64, now time.Time) (bool, bool, error) {
	row := &model.CooperativePair{Player1ID: p1, Player2ID: p2, HighestScore: s, UpdatedAt: now}
	res := l.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			DoUpdates: clause.Set{
				{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("IF(VALUES(highest_score) > highest_score, VALUES(updated_at), updated_at)")},
				{Column: clause.Column{Name: "highest_score"}, Value: gorm.Expr("GREATEST(highest_score, VALUES(highest_score))")},
			},
		}).
		Create(row)
	if res.Error != nil {
		return false, false, res.Error
	}
	return res.RowsAffected > 0, res.RowsAffected == 1, nil
}

// upsertSQLite runs the existence check and the conditional upsert in one
// transaction. The pool has a single connection, so the pair is settled
// before any other writer gets in.
func (l *Ledger) upsertSQLite(ctx context.Context, p1, p2, s int64, now time.Time) (accepted, created bool, err error) {
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.CooperativePair{}).
			Where("player1_id = ? AND player2_id = ?", p1, p2).
			Count(&n).Error; err != nil {
			return err
		}
		row := &model.CooperativePair{Player1ID: p1, Player2ID: p2, HighestScore: s, UpdatedAt: now}
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "player1_id"}, {Name: "player2_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"highest_score": gorm.Expr("excluded.highest_score"),
					"updated_at":    gorm.Expr("excluded.updated_at"),
				}),
				Where: clause.Where{Exprs: []clause.Expression{
					gorm.Expr("cooperative_players.highest_score < excluded.highest_score"),
				}},
			}).
			Create(row)
		if res.Error != nil {
			return res.Error
		}
		accepted = res.RowsAffected > 0
		created = accepted && n == 0
		return nil
	})
	return accepted, created, err
}

// Get returns the record for the pair (a, b) in either order.
func (l *Ledger) Get(ctx context.Context, a, b PlayerRef) (*PairDetail, error) {
	p1, p2, err := l.pair(ctx, a, b)
	if err != nil {
		return nil, err
	}
	pair, err := l.find(ctx, p1.ID, p2.ID)
	if err != nil {
		return nil, err
	}
	pair.Player1, pair.Player2 = *p1, *p2
	d := detail(*pair)
	return &d, nil
}

// ListAll returns every pair with both characters inlined, in creation order.
func (l *Ledger) ListAll(ctx context.Context) ([]PairDetail, error) {
	var pairs []model.CooperativePair
	err := l.withPlayers(ctx).Order("id ASC").Find(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("list cooperative pairs: %w", dbadapter.Unavailable(err))
	}
	return details(pairs), nil
}

// TopN returns at most n pairs ordered by score, highest first. Ties keep
// creation order.
func (l *Ledger) TopN(ctx context.Context, n int) ([]PairDetail, error) {
	if n <= 0 {
		return []PairDetail{}, nil
	}
	var pairs []model.CooperativePair
	err := l.withPlayers(ctx).
		Order("highest_score DESC").
		Order("id ASC").
		Limit(n).
		Find(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("top %d cooperative pairs: %w", n, dbadapter.Unavailable(err))
	}
	return details(pairs), nil
}

func (l *Ledger) withPlayers(ctx context.Context) *gorm.DB {
	return l.db.WithContext(ctx).Preload("Player1").Preload("Player2")
}

func (l *Ledger) find(ctx context.Context, p1, p2 int64) (*model.CooperativePair, error) {
	var pair model.CooperativePair
	err := l.db.WithContext(ctx).
		Where("player1_id = ? AND player2_id = ?", p1, p2).
		First(&pair).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPairNotFound
		}
		return nil, fmt.Errorf("find pair %d/%d: %w", p1, p2, dbadapter.Unavailable(err))
	}
	return &pair, nil
}

// pair resolves both players and orders them lower id first.
func (l *Ledger) pair(ctx context.Context, a, b PlayerRef) (*model.Character, *model.Character, error) {
	p1, err := l.resolve(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	p2, err := l.resolve(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	if p1.ID == p2.ID {
		return nil, nil, ErrInvalidPair
	}
	if p1.ID > p2.ID {
		p1, p2 = p2, p1
	}
	return p1, p2, nil
}

func (l *Ledger) resolve(ctx context.Context, ref PlayerRef) (*model.Character, error) {
	var (
		char *model.Character
		err  error
	)
	switch {
	case ref.ID > 0:
		char, err = l.chars.GetByID(ctx, ref.ID)
	case ref.Name != "":
		char, err = l.chars.GetByName(ctx, ref.Name)
	default:
		return nil, ErrUnknownPlayer
	}
	if errors.Is(err, character.ErrNotFound) {
		return nil, ErrUnknownPlayer
	}
	return char, err
}

func (l *Ledger) announce(ctx context.Context, res *Result) {
	if l.pubsub == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := l.pubsub.Publish(ctx, ScoreChannel, string(payload)); err != nil {
		l.logger.Warn("publish cooperative score failed", zap.Error(err))
	}
}

func detail(p model.CooperativePair) PairDetail {
	return PairDetail{
		ID:           p.ID,
		HighestScore: p.HighestScore,
		Player1:      Member{Name: p.Player1.Name, Attributes: p.Player1.Attributes},
		Player2:      Member{Name: p.Player2.Name, Attributes: p.Player2.Attributes},
	}
}

func details(pairs []model.CooperativePair) []PairDetail {
	out := make([]PairDetail, len(pairs))
	for i, p := range pairs {
		out[i] = detail(p)
	}
	return out
}
