package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// migrationLockID is the advisory lock key held while migrating, so two
// daemons starting together do not race on the schema.
const migrationLockID = 0x616d78 // "amx"

// ErrMigrationDrift means an applied migration file changed on disk.
var ErrMigrationDrift = errors.New("applied migration was modified")

// Migrator applies {version}_{name}.up.sql / .down.sql files from an
// fs.FS and records each applied file with its checksum.
type Migrator struct {
	db     *sql.DB
	files  fs.FS
	logger zerolog.Logger
}

// MigrationStatus describes one up-migration file.
type MigrationStatus struct {
	Version   string
	Filename  string
	Applied   bool
	AppliedAt time.Time
}

type migrationFile struct {
	version  string
	name     string
	content  []byte
	checksum string
}

type appliedMigration struct {
	filename  string
	checksum  string
	appliedAt time.Time
}

// NewMigrator reads migrations from files, usually migrations.FS or an
// os.DirFS for an override directory.
func NewMigrator(db *sql.DB, files fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, files: files, logger: logger.With().Str("component", "migrator").Logger()}
}

// Up applies every pending migration in version order, one transaction
// per file. It refuses to run when an applied file no longer matches its
// recorded checksum.
func (m *Migrator) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		files, err := m.load(".up.sql")
		if err != nil {
			return err
		}
		applied, err := appliedMigrations(ctx, conn)
		if err != nil {
			return err
		}
		pending, err := planUp(files, applied)
		if err != nil {
			return err
		}
		for _, f := range pending {
			err := inConnTx(ctx, conn, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, string(f.content)); err != nil {
					return fmt.Errorf("exec migration %s: %w", f.name, err)
				}
				_, err := tx.ExecContext(ctx,
					`INSERT INTO public.amx_schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)`,
					f.version, f.name, f.checksum,
				)
				return err
			})
			if err != nil {
				return err
			}
			m.logger.Info().Str("file", f.name).Str("checksum", f.checksum[:12]).Msg("applied migration")
		}
		if len(pending) == 0 {
			m.logger.Debug().Int("applied", len(applied)).Msg("schema up to date")
		}
		return nil
	})
}

// Down rolls back the newest applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version, filename string
		err := conn.QueryRowContext(ctx,
			`SELECT version, filename FROM public.amx_schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version, &filename)
		if errors.Is(err, sql.ErrNoRows) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		downFile := strings.TrimSuffix(filename, ".up.sql") + ".down.sql"
		content, err := fs.ReadFile(m.files, downFile)
		if err != nil {
			return fmt.Errorf("read down migration %s: %w", downFile, err)
		}
		err = inConnTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("exec down migration %s: %w", downFile, err)
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM public.amx_schema_migrations WHERE version = $1`, version)
			return err
		})
		if err != nil {
			return err
		}
		m.logger.Info().Str("file", downFile).Msg("rolled back migration")
		return nil
	})
}

// Status lists every up-migration and whether it is applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	files, err := m.load(".up.sql")
	if err != nil {
		return nil, err
	}
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := ensureMigrationTable(ctx, conn); err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		a, ok := applied[f.version]
		out = append(out, MigrationStatus{Version: f.version, Filename: f.name, Applied: ok, AppliedAt: a.appliedAt})
	}
	return out, nil
}

// locked runs fn on one connection holding the migration advisory lock.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			m.logger.Warn().Err(err).Msg("release migration lock")
		}
	}()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// load reads every file with suffix, sorted by name.
func (m *Migrator) load(suffix string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		content, err := fs.ReadFile(m.files, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		files = append(files, migrationFile{
			version:  extractVersion(e.Name()),
			name:     e.Name(),
			content:  content,
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// planUp returns the files not yet applied. An applied file whose checksum
// changed, or two files sharing a version, is an error.
func planUp(files []migrationFile, applied map[string]appliedMigration) ([]migrationFile, error) {
	seen := make(map[string]string, len(files))
	var pending []migrationFile
	for _, f := range files {
		if other, dup := seen[f.version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %s", other, f.name, f.version)
		}
		seen[f.version] = f.name

		a, ok := applied[f.version]
		if !ok {
			pending = append(pending, f)
			continue
		}
		if a.checksum != "" && a.checksum != f.checksum {
			return nil, fmt.Errorf("%s: %w", f.name, ErrMigrationDrift)
		}
	}
	return pending, nil
}

func ensureMigrationTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.amx_schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func appliedMigrations(ctx context.Context, conn *sql.Conn) (map[string]appliedMigration, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, filename, checksum, applied_at FROM public.amx_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]appliedMigration)
	for rows.Next() {
		var v string
		var a appliedMigration
		if err := rows.Scan(&v, &a.filename, &a.checksum, &a.appliedAt); err != nil {
			return nil, err
		}
		applied[v] = a
	}
	return applied, rows.Err()
}

func inConnTx(ctx context.Context, conn *sql.Conn, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// extractVersion returns the numeric prefix of a migration filename,
// e.g. "000001_event_log.up.sql" -> "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
