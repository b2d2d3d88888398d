package data

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the event store backend. SQLite is the desktop default;
// Postgres is for setups that share one event log between viewers.
type Config struct {
	Driver      string        `yaml:"driver"`
	Path        string        `yaml:"path"` // sqlite file
	DSN         string        `yaml:"dsn"`  // postgres, overrides the fields below
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Name        string        `yaml:"name"`
	SSLMode     string        `yaml:"sslmode"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// PostgresDSN builds a connection string from the discrete fields.
func (c Config) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// SQLiteDSN enforces WAL and a busy timeout on every pooled connection.
func (c Config) SQLiteDSN() string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		c.Path, c.BusyTimeout.Milliseconds())
}

// Open connects to the configured backend and pings it.
func Open(cfg Config) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite: empty database path")
		}
		db, err = sql.Open("sqlite", cfg.SQLiteDSN())
		if err != nil {
			return nil, fmt.Errorf("sqlite: open failed: %w", err)
		}
		// one writer at a time; the persistence worker is the only one
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(time.Hour)
	case DriverPostgres:
		db, err = sql.Open("postgres", cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("postgres: open failed: %w", err)
		}
		db.SetMaxOpenConns(8)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping failed: %w", cfg.Driver, err)
	}
	return db, nil
}

// Dialect rewrites '?' placeholders for drivers that need numbered ones.
type Dialect string

func DialectFor(driver string) Dialect {
	if driver == DriverPostgres {
		return Dialect(DriverPostgres)
	}
	return Dialect(DriverSQLite)
}

func (d Dialect) Rebind(query string) string {
	if d != Dialect(DriverPostgres) {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
