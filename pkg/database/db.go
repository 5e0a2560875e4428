package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/plectr/core/pkg/config"
)

// Connect opens the relational store pool and sizes it the way the runtime
// assumes elsewhere in the server (§5: "bounded, ~50 connections").
func Connect(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DBUrl)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return db, nil
}
