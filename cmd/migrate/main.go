package main

import (
	"flag"
	"os"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/telemetry"
)

func main() {
	source := flag.String("source", "file://migrations", "migrations source URL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := telemetry.NewLogger("migrate", "info")
		boot.Fatal().Err(err).Msg("config")
	}
	log := telemetry.NewLogger(cfg.ServiceName+"-migrate", cfg.LogLevel)

	if flag.NArg() < 1 {
		log.Error().Msg("usage: migrate <up|down|version>")
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	st, err := postgres.Migrate(*source, cfg.PostgresDSN, cmd)
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}
	log.Info().
		Str("command", cmd).
		Uint("version", st.Version).
		Bool("dirty", st.Dirty).
		Bool("no_change", st.NoChange).
		Msg("migrations done")
}
