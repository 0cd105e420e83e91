package main

import (
	"github.com/rs/zerolog/log"

	"vpn-switcher/internal/app"
	"vpn-switcher/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)

	if err := app.Run(cfg); err != nil {
		log.Fatal().Err(err).Msg("vpn-switcher daemon exited")
	}
}
