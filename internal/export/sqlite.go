// Package export copies log files into SQLite databases for ad-hoc queries
package export

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/query"
	"github.com/polysync/rnr/internal/rnrerr"
)

//go:embed schema.sql
var schemaSQL string

// DefaultBatchSize is the number of records inserted per transaction
const DefaultBatchSize = 1000

// Options configures an export
type Options struct {
	// Registry names message types (default msgtype.DefaultRegistry)
	Registry *msgtype.Registry
	// Filter selects the exported records; empty exports everything
	Filter msgtype.Filter
	// Where further restricts the exported records when set
	Where *query.Predicate
	// OmitPayloads stores NULL instead of payload bytes
	OmitPayloads bool
	// BatchSize bounds each insert transaction (default DefaultBatchSize)
	BatchSize int
}

// Stats summarises an export
type Stats struct {
	FileID   int64
	Exported uint64
	Skipped  uint64
	// GPSFixes counts exported gps records also written to gps_fixes
	GPSFixes uint64
	// Malformed counts exported gps records whose payload did not decode
	Malformed uint64
}

// DB is an export target
type DB struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// Open creates or opens the SQLite database at path and applies the schema
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, rnrerr.IOError{Path: path, Err: err}
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		//nolint:errcheck // Ping error is reported
		_ = db.Close()
		return nil, rnrerr.IOError{Path: path, Err: err}
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		schemaSQL,
	} {
		if _, err := db.Exec(stmt); err != nil {
			//nolint:errcheck // Exec error is reported
			_ = db.Close()
			return nil, rnrerr.IOError{Path: path, Err: fmt.Errorf("apply schema: %w", err)}
		}
	}

	return &DB{db: db, path: path, log: logger.WithComponent("export")}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// SQL returns the underlying database for queries
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Export copies the records of r into a new log_files row and its records
func (d *DB) Export(ctx context.Context, r *logfile.Reader, opts Options) (Stats, error) {
	if opts.Registry == nil {
		opts.Registry = msgtype.DefaultRegistry()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if err := opts.Filter.Validate(); err != nil {
		return Stats{}, err
	}

	attrs := r.Attributes()
	res, err := d.db.ExecContext(ctx, `INSERT INTO log_files
		(path, format_version, checksums, session_tag, created_at_us, data_count, first_ts_us, last_ts_us, exported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attrs.Path, attrs.Version, attrs.Checksums, int64(attrs.SessionTag), attrs.CreatedAt.UnixMicro(),
		int64(attrs.DataCount), int64(attrs.FirstTimestamp), int64(attrs.LastTimestamp),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return Stats{}, rnrerr.IOError{Path: d.path, Err: err}
	}

	stats := Stats{}
	stats.FileID, err = res.LastInsertId()
	if err != nil {
		return stats, rnrerr.IOError{Path: d.path, Err: err}
	}

	b := &batch{d: d, fileID: stats.FileID}
	defer b.rollback()

	it := r.Iterator()
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		if !opts.Filter.Allows(rec.Type) {
			stats.Skipped++
			continue
		}
		if ok, err := opts.Where.Match(rec); err != nil {
			return stats, err
		} else if !ok {
			stats.Skipped++
			continue
		}

		var payload []byte
		if !opts.OmitPayloads {
			payload = rec.Payload
		}
		if err := b.insert(ctx, rec, opts.Registry.Name(rec.Type), payload); err != nil {
			return stats, err
		}
		stats.Exported++

		fix, err := rec.Message().GPSFix()
		var mismatch msgtype.TypeMismatchError
		switch {
		case errors.As(err, &mismatch):
			// not a gps record
		case err != nil:
			stats.Malformed++
			d.log.Debug().Err(err).Uint64("index", rec.Index).Msg("GPS payload not decoded")
		default:
			if err := b.insertFix(ctx, rec.Index, fix); err != nil {
				return stats, err
			}
			stats.GPSFixes++
		}

		if b.n >= opts.BatchSize {
			if err := b.commit(); err != nil {
				return stats, err
			}
		}
	}

	if err := b.commit(); err != nil {
		return stats, err
	}

	d.log.Info().
		Str("source", attrs.Path).
		Str("target", d.path).
		Uint64("exported", stats.Exported).
		Uint64("skipped", stats.Skipped).
		Uint64("gps_fixes", stats.GPSFixes).
		Msg("Log file exported")
	return stats, nil
}

// batch groups inserts into one transaction
type batch struct {
	d      *DB
	fileID int64
	tx     *sql.Tx
	stmt   *sql.Stmt
	fixes  *sql.Stmt
	n      int
}

func (b *batch) begin(ctx context.Context) error {
	tx, err := b.d.db.BeginTx(ctx, nil)
	if err != nil {
		return rnrerr.IOError{Path: b.d.path, Err: err}
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records
		(file_id, idx, ts_us, type_id, type_name, size, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err == nil {
		b.fixes, err = tx.PrepareContext(ctx, `INSERT INTO gps_fixes
			(file_id, idx, latitude, longitude, altitude_m, speed_mps, heading_deg) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	}
	if err != nil {
		//nolint:errcheck // Prepare error is reported
		_ = tx.Rollback()
		b.fixes = nil
		return rnrerr.IOError{Path: b.d.path, Err: err}
	}
	b.tx, b.stmt = tx, stmt
	return nil
}

func (b *batch) insert(ctx context.Context, rec *logfile.Record, typeName string, payload []byte) error {
	if b.tx == nil {
		if err := b.begin(ctx); err != nil {
			return err
		}
	}

	if _, err := b.stmt.ExecContext(ctx, b.fileID, int64(rec.Index), int64(rec.Timestamp),
		int64(rec.Type), typeName, int64(rec.Size), payload); err != nil {
		return rnrerr.IOError{Path: b.d.path, Err: err}
	}
	b.n++
	return nil
}

// insertFix adds the decoded fix of a record inserted in the same batch
func (b *batch) insertFix(ctx context.Context, index uint64, fix msgtype.GPSFix) error {
	if _, err := b.fixes.ExecContext(ctx, b.fileID, int64(index),
		fix.Latitude, fix.Longitude, fix.Altitude, float64(fix.Speed), float64(fix.Heading)); err != nil {
		return rnrerr.IOError{Path: b.d.path, Err: err}
	}
	return nil
}

func (b *batch) commit() error {
	if b.tx == nil {
		return nil
	}
	//nolint:errcheck // Statements are closed with the transaction
	_ = b.stmt.Close()
	//nolint:errcheck // Statements are closed with the transaction
	_ = b.fixes.Close()
	err := b.tx.Commit()
	b.tx, b.stmt, b.fixes, b.n = nil, nil, nil, 0
	if err != nil {
		return rnrerr.IOError{Path: b.d.path, Err: err}
	}
	return nil
}

func (b *batch) rollback() {
	if b.tx == nil {
		return
	}
	//nolint:errcheck // Best effort after an earlier error
	_ = b.stmt.Close()
	//nolint:errcheck // Best effort after an earlier error
	_ = b.fixes.Close()
	//nolint:errcheck // Best effort after an earlier error
	_ = b.tx.Rollback()
	b.tx, b.stmt, b.fixes, b.n = nil, nil, nil, 0
}
