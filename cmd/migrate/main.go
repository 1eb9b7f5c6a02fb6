package main

import (
	"errors"
	"flag"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/tajirly/agent-core/internal/shared/config"
	"github.com/tajirly/agent-core/internal/shared/logutil"
)

func main() {
	var command string
	var path string
	flag.StringVar(&command, "cmd", "up", "migration command (up, down, version, force)")
	flag.StringVar(&path, "path", "file://migrations", "migration source")
	flag.Parse()

	cfg := config.Load()
	logutil.Init(cfg.Env)
	log := logutil.Component("migrate")

	m, err := migrate.New(path, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrate instance")
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("migration up failed")
		}
		log.Info().Msg("migrations up completed")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("migration down failed")
		}
		log.Info().Msg("migrations down completed")

	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatal().Err(err).Msg("failed to read version")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration version")

	case "force":
		if flag.NArg() < 1 {
			log.Fatal().Msg("force requires a version number")
		}
		v, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			log.Fatal().Err(err).Msg("invalid version number")
		}
		if err := m.Force(v); err != nil {
			log.Fatal().Err(err).Msg("force failed")
		}
		log.Info().Int("version", v).Msg("forced migration version")

	default:
		log.Fatal().Str("cmd", command).Msg("unknown command (use: up, down, version, force)")
	}
}
