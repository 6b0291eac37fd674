package database

import (
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Pool sizes the connection pool.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// DefaultPool is used when the config leaves pool sizing unset.
var DefaultPool = Pool{MaxOpen: 25, MaxIdle: 5, MaxLifetime: 30 * time.Minute}

// Connect establishes a connection to PostgreSQL
func Connect(databaseURL string, pool Pool) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if pool.MaxOpen <= 0 {
		pool = DefaultPool
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
