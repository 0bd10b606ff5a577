// Package database opens the app database, runs migrations and provides transactions.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/trezcool/roofest/core"
	appfs "github.com/trezcool/roofest/fs"
)

const (
	EnginePostgres = "postgres"
	EngineSQLite   = "sqlite"

	migrationsDir = "migrations"
)

var gooseMu sync.Mutex // goose keeps its settings in package globals

func postgresURL(dbName string, admin bool, conf *core.Config) string {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   EnginePostgres,
		User:     user,
		Host:     net.JoinHostPort(conf.Database.Host, conf.Database.Port),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// SQLiteDSN returns a modernc sqlite DSN for `path` with the pragmas the app relies on.
func SQLiteDSN(path string) string {
	pragmas := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	return path + "?" + pragmas
}

// Open opens and pings the database configured in conf.Database.
func Open(conf *core.Config) (*sqlx.DB, error) {
	switch conf.Database.Engine {
	case EngineSQLite:
		return OpenSQLite(conf.Database.Path)
	case EnginePostgres, "":
		db, err := sqlx.Open(EnginePostgres, postgresURL(conf.Database.Name, false, conf))
		if err != nil {
			return nil, errors.Wrap(err, "opening database")
		}
		if err = ping(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, errors.Errorf("unsupported database engine %q", conf.Database.Engine)
	}
}

// OpenSQLite opens the sqlite database at `path`; ":memory:" is held on a single connection.
func OpenSQLite(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open(EngineSQLite, SQLiteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pinging sqlite database")
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sql.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

func queryExists(db *sqlx.DB, query string, args ...interface{}) (bool, error) {
	var exists bool
	err := db.Get(&exists, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return exists, err
}

func createAppUser(db *sqlx.DB, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}

	exists, err := queryExists(db, "SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User)
	if err != nil {
		return errors.Wrap(err, "checking app user")
	}
	if !exists {
		q := fmt.Sprintf("CREATE USER %s CREATEDB ENCRYPTED PASSWORD '%s'",
			quoteIdent(conf.Database.User), strings.ReplaceAll(conf.Database.Password, "'", "''"))
		if _, err = db.Exec(q); err != nil {
			return errors.Wrap(err, "creating app user")
		}
	}
	return nil
}

func createDB(db *sqlx.DB, conf *core.Config) error {
	exists, err := queryExists(db, "SELECT true FROM pg_database WHERE datname = $1", conf.Database.Name)
	if err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if !exists {
		if _, err = db.Exec("CREATE DATABASE " + quoteIdent(conf.Database.Name)); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// CreateIfNotExist creates the app role and database on postgres. It is a no-op for sqlite.
func CreateIfNotExist(conf *core.Config) error {
	if conf.Database.Engine == EngineSQLite {
		return nil
	}

	// connect as admin
	adminDB, err := sqlx.Open(EnginePostgres, postgresURL("postgres", true, conf))
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = adminDB.Close() }()
	if err = ping(adminDB.DB); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppUser(adminDB, conf); err != nil {
		return err
	}

	// create DB as app user
	appDB, err := sqlx.Open(EnginePostgres, postgresURL("postgres", false, conf))
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = appDB.Close() }()
	return createDB(appDB, conf)
}

func gooseDialect(db *sqlx.DB) string {
	if db.DriverName() == EngineSQLite {
		return "sqlite3"
	}
	return EnginePostgres
}

// RunMigrations runs a goose command ("up", "down", "status", "version", "redo", "reset", ...) on the embedded migrations.
func RunMigrations(ctx context.Context, db *sqlx.DB, command string, args ...string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(appfs.FS)
	if err := goose.SetDialect(gooseDialect(db)); err != nil {
		return errors.Wrap(err, "setting migration dialect")
	}
	if err := goose.RunContext(ctx, command, db.DB, migrationsDir, args...); err != nil {
		return errors.Wrapf(err, "running migrations %s", command)
	}
	return nil
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	return RunMigrations(ctx, db, "up")
}

// Transactor runs functions inside database transactions.
type Transactor struct {
	db *sqlx.DB
}

var _ core.Transactor = (*Transactor)(nil) // interface compliance check

func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx commits when fn returns nil and rolls back on error or panic.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, exec core.DBExecutor) error) (err error) {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
