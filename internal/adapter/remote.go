package adapter

import (
	"context"
	"encoding/json"
	"log/slog"
)

// ConfigSource fetches the raw site-table override from the backend.
// Implemented by memoryapi.Client.
type ConfigSource interface {
	SiteConfig(ctx context.Context) ([]byte, error)
}

// LoadRemoteOverride fetches the descriptor override once and, when the
// response decodes to a non-empty table, replaces the active registry
// wholesale. Every failure mode keeps the defaults and is logged at Warn.
// Fire-and-forget: this must never gate page interaction.
func LoadRemoteOverride(ctx context.Context, src ConfigSource, reg *Registry, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := src.SiteConfig(ctx)
	if err != nil {
		logger.Warn("Site config fetch failed, keeping defaults", "error", err)
		return
	}

	var sites map[string]*Descriptor
	if err := json.Unmarshal(raw, &sites); err != nil {
		logger.Warn("Site config unparsable, keeping defaults", "error", err)
		return
	}
	if len(sites) == 0 {
		logger.Info("Site config empty, keeping defaults")
		return
	}

	reg.Replace(sites)
	logger.Info("Remote site config applied", "sites", len(sites))
}
