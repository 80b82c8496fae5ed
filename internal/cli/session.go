package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/syncbook/internal/config"
	"github.com/roach88/syncbook/internal/connector"
	"github.com/roach88/syncbook/internal/engine"
	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/store"
)

// session is an open workbook: config, store and engine with the
// config's folders applied.
type session struct {
	cfg      *config.Config
	store    *store.Store
	engine   *engine.Engine
	registry *connector.Registry
	workbook string
	// invalid lists folders whose mapping was rejected on apply.
	invalid map[string]error
}

// loadConfig reads the workbook config named by the root options.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if _, err := os.Stat(opts.ConfigPath); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("config file not found: %s", opts.ConfigPath))
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// databasePath resolves --db, falling back to the config's database
// relative to the config file.
func databasePath(opts *RootOptions, cfg *config.Config) string {
	if opts.Database != "" {
		return opts.Database
	}
	return cfg.Resolve(cfg.Database)
}

// openSession loads the config, opens the store and applies the declared
// folders. A folder already in the store keeps its stored placement;
// placement changes go through move-folder.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	reg, err := cfg.Connectors()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open connectors", err)
	}
	folders, err := cfg.DataFolders(ctx, reg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to resolve folders", err)
	}

	dbPath := databasePath(opts, cfg)
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create database directory", err)
		}
	}
	slog.Debug("opening database", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	s := &session{
		cfg:      cfg,
		store:    st,
		registry: reg,
		workbook: cfg.Workbook,
		engine: engine.New(st, reg,
			engine.WithBranch(cfg.Branch),
			engine.WithWorkers(cfg.Workers),
		),
		invalid: make(map[string]error),
	}
	if err := s.applyFolders(ctx, folders); err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to apply folders", err)
	}
	return s, nil
}

func (s *session) applyFolders(ctx context.Context, folders []ir.DataFolder) error {
	existing, err := s.engine.ListFolders(ctx, s.workbook)
	if err != nil {
		return err
	}
	stored := make(map[string]ir.DataFolder, len(existing))
	for _, f := range existing {
		stored[f.ID] = f
	}

	for _, f := range folders {
		f.WorkbookID = s.workbook
		if prev, ok := stored[f.ID]; ok {
			f.ParentID = prev.ParentID
			f.Name = prev.Name
		}
		errs, err := s.engine.SaveFolder(ctx, f)
		if len(errs) > 0 {
			slog.Warn("folder mapping rejected", "folder", f.ID, "errors", len(errs))
			s.invalid[f.ID] = err
			continue
		}
		if err != nil {
			return fmt.Errorf("folder %s: %w", f.ID, err)
		}
	}
	return nil
}

// Close stops the engine and closes the store.
func (s *session) Close() {
	s.engine.Stop()
	if err := s.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
