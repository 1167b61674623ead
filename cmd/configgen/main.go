package main

import (
	"os"

	"github.com/danmuck/missionctl/internal/config"
	"github.com/danmuck/missionctl/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func defaultPath(kind string) string {
	switch kind {
	case config.KindCommander:
		return "cmd/commanderctl/config.toml"
	case config.KindSoldier:
		return "cmd/soldierctl/config.toml"
	default:
		return ""
	}
}

func main() {
	kind := pflag.String("kind", config.KindCommander, "config kind: commander|soldier")
	output := pflag.String("output", "", "output path for config template")
	validate := pflag.Bool("validate", false, "validate an existing config file")
	input := pflag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := pflag.Bool("force", false, "overwrite existing config file")
	pflag.Parse()

	logging.ConfigureRuntime()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if err := config.Check(*kind, path); err != nil {
			log.Error().Err(err).Str("kind", *kind).Msg("config invalid")
			os.Exit(1)
		}
		log.Info().Str("kind", *kind).Str("path", path).Msg("validated config")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if target == "" {
		log.Error().Str("kind", *kind).Msg("unknown config kind")
		os.Exit(1)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Error().Err(err).Msg("write template failed")
		os.Exit(1)
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}
