// Package accounting writes one ledger row per request during the
// Accounting phase. The ledger lives in SQLite so it survives
// restarts and can be queried offline.
package accounting

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-viper/mapstructure/v2"
	_ "modernc.org/sqlite"

	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

type params struct {
	Path string `mapstructure:"path"`
}

type Accounting struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(deps module.Deps) (module.Handler, error) {
	var p params
	if err := mapstructure.Decode(deps.Params, &p); err != nil {
		return nil, fmt.Errorf("decoding accounting params: %w", err)
	}
	if p.Path == "" {
		return nil, fmt.Errorf("accounting module needs path")
	}

	db, err := sql.Open("sqlite", p.Path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TIMESTAMP NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		status INTEGER NOT NULL,
		duration_micros INTEGER NOT NULL,
		source_ip TEXT,
		last_modifier TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounting{db: db, logger: logger}, nil
}

func (a *Accounting) HandleRequest(ctx context.Context, st *pipeline.State) pipeline.HandlerResult {
	var durationMicros int64
	if v, ok := st.ContextGet(pipeline.StartTimeKey); ok {
		if start, ok := v.(time.Time); ok {
			durationMicros = time.Since(start).Microseconds()
		}
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO requests (ts, method, path, status, duration_micros, source_ip, last_modifier)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), st.Method, st.Path, st.StatusCode, durationMicros,
		st.SourceIP, st.LastModifier())
	if err != nil {
		// The ledger must never fail the request it accounts for.
		a.logger.Warn("ledger insert failed", "error", err)
	}
	return pipeline.UnmodifiedContinue()
}

func (a *Accounting) Close() error { return a.db.Close() }
