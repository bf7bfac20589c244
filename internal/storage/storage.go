// Package storage owns the embedded SQLite connection shared by every
// collection engine: opening the encrypted file, applying compatibility
// pragmas, running schema migrations, and exposing the single write
// connection plus a pool of read connections.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"

	// modernc pure-Go SQLite driver — no CGO required. Registers itself
	// as "sqlite" in database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInvalidSalt is returned when a caller-supplied salt is not a 32-char
// hex string, per the "salt outside header" open mode in spec.md §6.
var ErrInvalidSalt = errors.New("storage: salt must be a 32-char hex string")

var hexSalt = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Config describes how to open the embedded database.
type Config struct {
	// Path is the on-disk file path (or ":memory:" for tests).
	Path string
	// Key is the encryption key applied via PRAGMA key. Empty disables
	// encryption (test-only; never leave empty in production).
	Key string
	// SaltOutsideHeader, when true, stores the 32 bytes of page-1 salt
	// out of band via PRAGMA cipher_salt instead of the header. Salt
	// must then be supplied as a 32-char hex string.
	SaltOutsideHeader bool
	Salt              string
	Logger            *zap.Logger
}

// DB bundles the write connection, a read-only pool, and the GORM handle
// used by MetaStore. All three share the same underlying SQLite file.
type DB struct {
	Write  *sql.DB
	Read   *sql.DB
	Gorm   *gorm.DB
	logger *zap.Logger
}

// Open applies compatibility pragmas (page size 1024, KDF iterations
// 64000, HMAC_SHA1 — the historical SQLCipher-compatible defaults this
// engine's on-disk format requires), optionally sets the out-of-header
// salt (PRAGMA cipher_salt), runs pending migrations, and returns the
// ready-to-use handles.
func Open(cfg Config) (*DB, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SaltOutsideHeader && !hexSalt.MatchString(cfg.Salt) {
		return nil, ErrInvalidSalt
	}

	write, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("storage: open write connection: %w", err)
	}
	// SQLite (and this engine's single-writer contract, per spec.md §5)
	// supports exactly one writer at a time.
	write.SetMaxOpenConns(1)

	if err := applyPragmas(write, cfg); err != nil {
		write.Close()
		return nil, err
	}

	read, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("storage: open read connection: %w", err)
	}
	read.SetMaxOpenConns(4)
	if err := applyPragmas(read, cfg); err != nil {
		write.Close()
		read.Close()
		return nil, err
	}

	if err := runMigrations(write, cfg.Logger); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("storage: migrations failed: %w", err)
	}

	gdb, err := gorm.Open(gormsqlite.Dialector{Conn: write}, &gorm.Config{
		Logger: newZapGORMLogger(cfg.Logger),
	})
	if err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("storage: gorm init: %w", err)
	}

	return &DB{Write: write, Read: read, Gorm: gdb, logger: cfg.Logger}, nil
}

func applyPragmas(db *sql.DB, cfg Config) error {
	stmts := []string{
		"PRAGMA page_size = 1024",
		"PRAGMA kdf_iter = 64000",
		"PRAGMA cipher_hmac_algorithm = HMAC_SHA1",
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	if cfg.Key != "" {
		stmts = append([]string{fmt.Sprintf("PRAGMA key = '%s'", cfg.Key)}, stmts...)
	}
	if cfg.SaltOutsideHeader {
		stmts = append(stmts, fmt.Sprintf("PRAGMA cipher_salt = \"x'%s'\"", cfg.Salt))
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("storage: apply pragma %q: %w", s, err)
		}
	}
	return nil
}

// Rekey rewrites every page of the database with newKey in place. The
// caller must hold exclusive access to Write for the duration.
func (d *DB) Rekey(newKey string) error {
	if _, err := d.Write.Exec(fmt.Sprintf("PRAGMA rekey = '%s'", newKey)); err != nil {
		return fmt.Errorf("storage: rekey: %w", err)
	}
	return nil
}

// Close releases both connections.
func (d *DB) Close() error {
	err1 := d.Write.Close()
	err2 := d.Read.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Ping verifies the write connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.Write.PingContext(ctx)
}

func runMigrations(sqlDB *sql.DB, log *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	drv, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Info("storage migrations applied successfully")
	return nil
}

// Now is overridable in tests; production code always calls time.Now.
var Now = func() time.Time { return time.Now() }

// NowMillis returns Now() truncated to milliseconds since epoch, the unit
// every persisted timestamp in this engine uses.
func NowMillis() int64 {
	return Now().UnixMilli()
}
