// Package directory maps class labels to display names stored in the
// t_Employee table.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// Backend is a store holding the label to name table.
type Backend interface {
	Names(ctx context.Context) (map[int]string, error)
	SetName(ctx context.Context, label int, name string) error
	Reset(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Entry is one directory row.
type Entry struct {
	Label int    `json:"label"`
	Name  string `json:"name"`
}

// Open picks a backend from the DSN scheme. postgres:// and postgresql://
// use pgx, mysql:// uses the MySQL driver with the rest of the DSN in its
// native form, anything else is a sqlite file. Open never writes: a missing
// sqlite file is an error and the table is not created.
func Open(ctx context.Context, dsn string) (Backend, error) {
	return open(ctx, dsn, false)
}

// Create is Open for administration commands. It creates a missing sqlite
// file and the t_Employee table on any backend.
func Create(ctx context.Context, dsn string) (Backend, error) {
	return open(ctx, dsn, true)
}

func open(ctx context.Context, dsn string, create bool) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch {
	case dsn == "":
		return nil, fmt.Errorf("empty directory DSN")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		var p *Postgres
		p, err = NewPostgres(ctx, dsn)
		b = p
	case strings.HasPrefix(dsn, "mysql://"):
		var s *SQL
		s, err = NewMySQL(ctx, strings.TrimPrefix(dsn, "mysql://"))
		b = s
	default:
		path := strings.TrimPrefix(dsn, "sqlite://")
		if !create {
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("sqlite directory: %w", err)
			}
		}
		var s *SQL
		s, err = NewSQLite(ctx, path)
		b = s
	}
	if err != nil {
		return nil, err
	}
	if create {
		if err := b.Migrate(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
	}
	return b, nil
}

// Directory is a read-only snapshot of the table.
type Directory struct {
	names map[int]string
}

// FromMap builds a snapshot from an in-memory table.
func FromMap(names map[int]string) *Directory {
	d := &Directory{names: make(map[int]string, len(names))}
	for k, v := range names {
		d.names[k] = v
	}
	return d
}

// Load reads the whole table once. It never fails: an unavailable backend
// or failed query yields an empty directory.
func Load(ctx context.Context, b Backend) *Directory {
	if b == nil {
		return FromMap(nil)
	}
	names, err := b.Names(ctx)
	if err != nil {
		slog.Warn("identity directory unavailable, using default names", "error", err)
		return FromMap(nil)
	}
	slog.Info("identity directory loaded", "entries", len(names))
	return &Directory{names: names}
}

// LoadDSN opens the DSN, reads it and closes it again, with the same soft
// failure semantics as Load.
func LoadDSN(ctx context.Context, dsn string) *Directory {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	b, err := Open(ctx, dsn)
	if err != nil {
		slog.Warn("identity directory unavailable, using default names", "dsn", redact(dsn), "error", err)
		return FromMap(nil)
	}
	defer b.Close()
	return Load(ctx, b)
}

// Name resolves label, falling back to "User <label>".
func (d *Directory) Name(label int) string {
	if d != nil {
		if n, ok := d.names[label]; ok && n != "" {
			return n
		}
	}
	return DefaultName(label)
}

// DefaultName is the name shown for labels with no directory entry.
func DefaultName(label int) string {
	return fmt.Sprintf("User %d", label)
}

// Len returns the number of rows loaded.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.names)
}

// Entries returns the rows ordered by label.
func (d *Directory) Entries() []Entry {
	if d == nil {
		return nil
	}
	out := make([]Entry, 0, len(d.names))
	for l, n := range d.names {
		out = append(out, Entry{Label: l, Name: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// redact hides the password part of a URL-style DSN for logging.
func redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, _ := strings.Cut(creds, ":")
	return scheme + "://" + user + ":***@" + host
}
