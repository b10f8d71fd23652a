// Package seed fills a development database with characters and cooperative
// scores.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/nisekogame/backend/game/character"
	"github.com/nisekogame/backend/game/coop"
	"github.com/nisekogame/backend/game/score"
	"go.uber.org/zap"
)

// DefaultNames are the characters created when no names are given.
var DefaultNames = []string{"Alice", "Bob", "Charlie", "Diana", "Eli"}

// cosmeticFields are the attribute keys the game client reads.
var cosmeticFields = []string{"hair_style", "hat_style", "body_style", "face_style", "skin_color"}

const (
	maxStyle = 3
	minScore = 10
	maxScore = 1000
)

// Generator produces random character documents and pair scores.
type Generator struct {
	faker *gofakeit.Faker
}

// NewGenerator creates a Generator. A zero seed uses the current time.
func NewGenerator(seed uint64) *Generator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Generator{faker: gofakeit.New(seed)}
}

// Attributes returns a cosmetic attribute document with every style in 0..3.
func (g *Generator) Attributes() json.RawMessage {
	doc := make(map[string]int, len(cosmeticFields))
	for _, f := range cosmeticFields {
		doc[f] = g.faker.Number(0, maxStyle)
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// Names returns n distinct first names that are not in taken.
func (g *Generator) Names(n int, taken []string) []string {
	seen := make(map[string]bool, len(taken)+n)
	for _, t := range taken {
		seen[t] = true
	}
	out := make([]string, 0, n)
	for attempts := 0; len(out) < n && attempts < n*50; attempts++ {
		name := g.faker.FirstName()
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Pairs shuffles ids and takes consecutive disjoint pairs, at most limit of them.
func (g *Generator) Pairs(ids []int64, limit int) [][2]int64 {
	shuffled := append([]int64(nil), ids...)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := g.faker.Number(0, i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	n := len(shuffled) / 2
	if n > limit {
		n = limit
	}
	pairs := make([][2]int64, n)
	for i := range pairs {
		pairs[i] = [2]int64{shuffled[2*i], shuffled[2*i+1]}
	}
	return pairs
}

// Score returns a random score in 10..1000.
func (g *Generator) Score() int64 {
	return int64(g.faker.Number(minScore, maxScore))
}

// Options controls a seeding run.
type Options struct {
	Names    []string
	Extra    int
	MaxPairs int
	Reset    bool
}

// Report summarizes a seeding run.
type Report struct {
	Deleted           int64
	CharactersCreated int
	CharactersSkipped int
	PairsScored       int
	PairsSkipped      int
}

// Seeder writes generated data through the regular services so every rule of
// the store and the ledger applies.
type Seeder struct {
	chars  *character.Service
	ledger *coop.Ledger
	gen    *Generator
	logger *zap.Logger
}

// NewSeeder creates a Seeder.
func NewSeeder(chars *character.Service, ledger *coop.Ledger, gen *Generator, logger *zap.Logger) *Seeder {
	return &Seeder{chars: chars, ledger: ledger, gen: gen, logger: logger}
}

// Run seeds characters, then random pairs among all existing characters.
// Characters whose name is taken are left as they are.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Report, error) {
	rep := &Report{}
	if opts.Reset {
		n, err := s.chars.DeleteAll(ctx)
		if err != nil {
			return nil, err
		}
		rep.Deleted = n
	}

	names := opts.Names
	if len(names) == 0 {
		names = DefaultNames
	}
	names = append(append([]string(nil), names...), s.gen.Names(opts.Extra, names)...)

	for _, name := range names {
		attrs := s.gen.Attributes()
		char, err := s.chars.Create(ctx, name, attrs)
		if errors.Is(err, character.ErrDuplicateName) {
			rep.CharactersSkipped++
			continue
		}
		if err != nil {
			return rep, fmt.Errorf("seed character %q: %w", name, err)
		}
		rep.CharactersCreated++
		s.logger.Info("character seeded", zap.String("name", char.Name), zap.ByteString("attributes", attrs))
	}

	all, err := s.chars.ListAll(ctx)
	if err != nil {
		return rep, err
	}
	ids := make([]int64, len(all))
	for i, c := range all {
		ids[i] = c.ID
	}

	for _, p := range s.gen.Pairs(ids, opts.MaxPairs) {
		sc := s.gen.Score()
		res, err := s.ledger.SubmitScore(ctx, coop.PlayerRef{ID: p[0]}, coop.PlayerRef{ID: p[1]}, sc)
		if errors.Is(err, score.ErrScoreNotHigher) {
			rep.PairsSkipped++
			continue
		}
		if err != nil {
			return rep, fmt.Errorf("seed pair %d/%d: %w", p[0], p[1], err)
		}
		rep.PairsScored++
		s.logger.Info("pair seeded",
			zap.String("player1", res.Player1),
			zap.String("player2", res.Player2),
			zap.Int64("score", res.HighestScore))
	}
	return rep, nil
}
