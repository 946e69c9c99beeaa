package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/unclebandit/wacampaign-backend/internal/config"
)

// Open connects to Postgres and verifies the connection.
func Open(cfg config.DBConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Webhook ingestion and the pacer share this pool.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}
