package main

import (
	"fmt"
	"log"
	"os"

	"github.com/nisekogame/backend/config"
	dbadapter "github.com/nisekogame/backend/db"
	"github.com/nisekogame/backend/game/character"
	"github.com/nisekogame/backend/game/coop"
	"github.com/nisekogame/backend/model"
	"github.com/nisekogame/backend/seed"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "seed",
		Usage: "populate the character store and cooperative ledger with sample data",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
			},
			&cli.StringSliceFlag{
				Name:  "name",
				Usage: "character name to create (repeatable)",
				Value: cli.NewStringSlice(seed.DefaultNames...),
			},
			&cli.IntFlag{
				Name:  "extra",
				Usage: "number of additional characters with generated names",
			},
			&cli.IntFlag{
				Name:  "pairs",
				Usage: "maximum number of cooperative pairs to score",
				Value: 10,
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "random seed, 0 for time based",
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "delete every character and pair first",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer dbadapter.Close(db)
	if err := model.AutoMigrate(db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	chars := character.NewService(db, logger)
	ledger := coop.NewLedger(db, chars, nil, logger)
	seeder := seed.NewSeeder(chars, ledger, seed.NewGenerator(c.Uint64("seed")), logger)

	rep, err := seeder.Run(c.Context, seed.Options{
		Names:    c.StringSlice("name"),
		Extra:    c.Int("extra"),
		MaxPairs: c.Int("pairs"),
		Reset:    c.Bool("reset"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("deleted=%d created=%d skipped=%d pairs=%d pairs_not_higher=%d\n",
		rep.Deleted, rep.CharactersCreated, rep.CharactersSkipped, rep.PairsScored, rep.PairsSkipped)
	return nil
}
