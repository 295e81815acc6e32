package main

import (
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/config"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
)

// loadCatalog returns the pattern catalog manager for cfg, falling back to
// the embedded catalog.
func loadCatalog(cfg *config.Config) *patterns.Manager {
	m, err := patterns.NewManager(cfg.PatternsPath, cfg.PatternsHotReload)
	if err != nil {
		log.Warn().Err(err).Msg("Pattern catalog unavailable, using embedded defaults")
		return patterns.DefaultManager()
	}
	return m
}
