// Package journal records register events in SQLite so simulators can
// inspect what a program wrote and when.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"nousim/internal/domain"
)

// Journal is an append-only SQLite log of register events.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	mu    sync.Mutex
	unsub func()
	cron  *cron.Cron
}

// Open opens (or creates) the journal at path and runs the schema migration.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, domain.NewDomainError("journal.Open", domain.ErrJournal, err.Error())
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.NewDomainError("journal.Open", domain.ErrJournal, err.Error())
	}
	// One writer keeps inserts in delivery order and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, domain.NewDomainError("journal.Open", domain.ErrJournal, "set WAL mode: "+err.Error())
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, domain.NewDomainError("journal.Open", domain.ErrJournal, "migrate: "+err.Error())
	}
	return &Journal{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS register_events (
			seq    INTEGER PRIMARY KEY AUTOINCREMENT,
			id     TEXT NOT NULL UNIQUE,
			ts     INTEGER NOT NULL,
			type   TEXT NOT NULL,
			device TEXT NOT NULL,
			field  TEXT NOT NULL DEFAULT '',
			value  REAL NOT NULL DEFAULT 0,
			source TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_register_events_device ON register_events (device, field, seq);
		CREATE INDEX IF NOT EXISTS idx_register_events_ts ON register_events (ts);
	`)
	return err
}

// Attach subscribes the journal to every event on bus. Calling Attach again
// replaces the previous subscription.
func (j *Journal) Attach(bus domain.EventBus) {
	unsub := bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		if err := j.Record(ctx, e); err != nil {
			j.logger.Warn("journal record failed", "event", string(e.Type), "error", err)
		}
	})
	j.mu.Lock()
	prev := j.unsub
	j.unsub = unsub
	j.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Record appends one event. Events without a register payload are ignored.
func (j *Journal) Record(ctx context.Context, e domain.Event) error {
	p, err := domain.DecodeRegisterEvent(e)
	if err != nil || p.Device == "" {
		return nil
	}
	_, err = j.db.ExecContext(ctx,
		"INSERT INTO register_events (id, ts, type, device, field, value, source) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.Timestamp.UnixNano(), string(e.Type), p.Device, p.Field, p.Value, string(p.Source),
	)
	if err != nil {
		return domain.NewDomainError("journal.Record", domain.ErrJournal, err.Error())
	}
	return nil
}

// History returns up to limit events for device, newest first. An empty
// field matches every field of the device, including device events.
func (j *Journal) History(ctx context.Context, device, field string, limit int) ([]domain.RegisterRecord, error) {
	if limit <= 0 {
		return nil, domain.NewDomainError("journal.History", domain.ErrInvalidArgument, "limit must be > 0")
	}
	query := "SELECT id, ts, type, device, field, value, source FROM register_events WHERE device = ?"
	args := []any{device}
	if field != "" {
		query += " AND field = ?"
		args = append(args, field)
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewDomainError("journal.History", domain.ErrJournal, err.Error())
	}
	defer rows.Close()

	var out []domain.RegisterRecord
	for rows.Next() {
		var (
			r           domain.RegisterRecord
			ts          int64
			typ, source string
		)
		if err := rows.Scan(&r.ID, &ts, &typ, &r.Device, &r.Field, &r.Value, &source); err != nil {
			return nil, domain.NewDomainError("journal.History", domain.ErrJournal, err.Error())
		}
		r.Time = time.Unix(0, ts).UTC()
		r.Type = domain.EventType(typ)
		r.Source = domain.Source(source)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainError("journal.History", domain.ErrJournal, err.Error())
	}
	return out, nil
}

// Prune deletes events recorded before the cutoff and reports how many went.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, "DELETE FROM register_events WHERE ts < ?", before.UnixNano())
	if err != nil {
		return 0, domain.NewDomainError("journal.Prune", domain.ErrJournal, err.Error())
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartRetention prunes events older than maxAge on a standard cron
// schedule until ctx is cancelled or the journal is closed.
func (j *Journal) StartRetention(ctx context.Context, schedule string, maxAge time.Duration) error {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return domain.NewDomainError("journal.StartRetention", domain.ErrInvalidArgument,
			fmt.Sprintf("schedule %q: %v", schedule, err))
	}
	if maxAge <= 0 {
		return domain.NewDomainError("journal.StartRetention", domain.ErrInvalidArgument, "max age must be > 0")
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		n, err := j.Prune(ctx, time.Now().Add(-maxAge))
		if err != nil {
			j.logger.Warn("journal retention failed", "error", err)
			return
		}
		if n > 0 {
			j.logger.Info("journal pruned", "rows", n, "max_age", maxAge)
		}
	}))

	j.mu.Lock()
	prev := j.cron
	j.cron = c
	j.mu.Unlock()
	if prev != nil {
		<-prev.Stop().Done()
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// Close detaches from the bus, stops retention and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	unsub, c := j.unsub, j.cron
	j.unsub, j.cron = nil, nil
	j.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if c != nil {
		<-c.Stop().Done()
	}
	return j.db.Close()
}
