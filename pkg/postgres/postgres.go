// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package postgres opens pooled database/sql connections backed by the pgx
// driver for the audit and dead-letter stores.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

type Config struct {
	URL             string
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns pool settings suitable for a single service instance.
func DefaultConfig() Config {
	return Config{
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("postgres url is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("postgres pingTimeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("postgres maxOpenConns must be >= 1")
	}
	if c.MaxIdleConns < 0 {
		return errors.New("postgres maxIdleConns must be >= 0")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("postgres maxIdleConns must be <= maxOpenConns")
	}
	if c.ConnMaxLifetime < 0 {
		return errors.New("postgres connMaxLifetime must be >= 0")
	}
	if c.ConnMaxIdleTime < 0 {
		return errors.New("postgres connMaxIdleTime must be >= 0")
	}
	return nil
}

// Open validates cfg, opens the pool and pings the server.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(DriverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}
