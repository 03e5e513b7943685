package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// withLocalSSLDisabled appends sslmode=disable for localhost DSNs that do not set it.
func withLocalSSLDisabled(dsn string) string {
	if !strings.Contains(dsn, "localhost") && !strings.Contains(dsn, "127.0.0.1") {
		return dsn
	}
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&sslmode=disable"
	}
	return dsn + "?sslmode=disable"
}

// openGormIPv4 opens a pgx-backed pool with IPv4 enforced and wraps it in gorm.
func openGormIPv4(ctx context.Context, dsn string, gLogger gormlogger.Interface) (*gorm.DB, *sql.DB, error) {
	cfg, err := pgx.ParseConfig(withLocalSSLDisabled(dsn))
	if err != nil {
		return nil, nil, fmt.Errorf("parse DSN: %w", err)
	}
	// Force IPv4 to avoid IPv6-only routes on some hosts
	cfg.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		d := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
		return d.DialContext(ctx, "tcp4", addr)
	}
	// simple protocol plays well with poolers (pgbouncer transaction mode)
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	sqlDB := stdlib.OpenDB(*cfg)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         gLogger,
		TranslateError: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return gdb, sqlDB, nil
}

// autoMigrate creates or updates every app table.
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Ticket{},
		&Drawing{},
		&FriendRequest{},
		&Transfer{},
		&Notification{},
		&Routine{},
		&RoutineDay{},
		&RoutineExercise{},
		&ExerciseSet{},
		&MotivationalImage{},
		&WorkoutSession{},
		&WorkoutStat{},
	)
}

// isUniqueViolation reports duplicate-key errors from postgres and from
// dialects that go through gorm's error translation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
