package data

import (
	"embed"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	// DataFileName is the default SQLite store file name.
	DataFileName string = "afet.db"
)

var (
	//go:embed sql/*
	f embed.FS

	errDBNotInitialized = errors.New("database not initialized")
)

// driverFor maps a DSN to its driver: postgres URLs use lib/pq,
// anything else is treated as a SQLite file path.
func driverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// Open connects to the store identified by dsn.
func Open(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn not specified")
	}
	db, err := sqlx.Open(driverFor(dsn), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", dsn)
	}
	return db, nil
}

// Init ensures the store schema exists. The DDL is IF NOT EXISTS only,
// so Init is idempotent across both drivers.
func Init(dsn string) error {
	db, err := Open(dsn)
	if err != nil {
		return errors.Wrapf(err, "error opening database: %s", dsn)
	}
	defer db.Close()

	log.Debug("creating db schema...")
	b, err := f.ReadFile("sql/ddl.sql")
	if err != nil {
		return errors.Wrap(err, "failed to read the schema creation file")
	}
	if _, err := db.Exec(string(b)); err != nil {
		return errors.Wrapf(err, "failed to create database schema in: %s", dsn)
	}
	log.Debug("db schema created")

	return nil
}
