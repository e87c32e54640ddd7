package app

import (
	"database/sql"
	"io"
	"log/slog"
	"os"

	"monsterline/internal/config"
	"monsterline/internal/db"
	"monsterline/internal/engine"
	"monsterline/internal/migrate"
	"monsterline/internal/repo"
	"monsterline/internal/transmit"
)

// Context bundles the handles a command or server needs: an open migrated
// database, the workspace config, the lifecycle engine, and the transmission
// service wired to the configured downstream.
type Context struct {
	DB       *sql.DB
	Config   *config.Config
	Log      *slog.Logger
	Engine   engine.Engine
	Transmit *transmit.Service
}

// Options tweak how a Context is opened.
type Options struct {
	Workspace string
	// Quiet discards logs; used by commands whose stdout is the product.
	Quiet bool
}

// Open resolves the workspace config, opens and migrates the database, and
// builds the engine and transmission service. Callers own Close.
func Open(opts Options) (*Context, error) {
	cfg, err := config.Load(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	var log *slog.Logger
	if opts.Quiet {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	client := transmit.NewClient(transmit.ClientConfig{
		BaseURL:        cfg.Invocation.BaseURL,
		APIKey:         cfg.Invocation.APIKey,
		TimeoutSeconds: cfg.Invocation.TimeoutSeconds,
	})
	svc := transmit.NewService(repo.Repo{DB: conn}, client, log)
	if cfg.Invocation.MaxAttempts > 0 {
		svc.MaxAttempts = cfg.Invocation.MaxAttempts
	}
	return &Context{
		DB:       conn,
		Config:   cfg,
		Log:      log,
		Engine:   engine.New(conn, log),
		Transmit: svc,
	}, nil
}

func (c *Context) Close() error {
	return c.DB.Close()
}
