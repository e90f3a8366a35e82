// Package app wires the service together: workspace database, migrations,
// config, admin seeding and the engine with its ledger.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tempora/internal/config"
	"tempora/internal/db"
	"tempora/internal/engine"
	"tempora/internal/ledger"
	"tempora/internal/migrate"
)

// App bundles the opened database, the loaded config and the engine.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Ledger ledger.Ledger
	Engine engine.Engine
}

// Open boots the service in workspace: ensures the workspace directory,
// opens the database, runs migrations, loads tempora.yml and seeds the
// admin authority from it. The caller owns the returned DB handle.
func Open(ctx context.Context, workspace string) (*App, error) {
	d, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(d); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		d.Close()
		return nil, err
	}
	l := ledger.New(d)
	eng := engine.New(d, cfg, l)
	if err := seedAdmin(ctx, eng, cfg); err != nil {
		d.Close()
		return nil, err
	}
	return &App{DB: d, Config: cfg, Ledger: l, Engine: eng}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	return a.DB.Close()
}

// seedAdmin installs the configured admin account as the authority if none
// is stored yet. An already-seeded authority is never overwritten from
// config; handover goes through Engine.SetAdmin.
func seedAdmin(ctx context.Context, eng engine.Engine, cfg *config.Config) error {
	tx, err := eng.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := eng.Repo.SeedAdminTx(ctx, tx, cfg.Admin.Account, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return tx.Commit()
}
