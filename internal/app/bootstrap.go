package app

import (
	"log/slog"

	"synthex/internal/infra"
	"synthex/internal/infra/storage"
)

// Bootstrap orchestrates the startup sequence shared by both binaries.
type Bootstrap struct {
	Config *infra.Config
	Store  *storage.Store
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB).
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStore(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("database initialized", slog.String("path", cfg.Storage.Path))

	return nil
}
