// Package dbtest opens isolated in-memory SQLite databases carrying the
// pipeline schema for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE registrations (
		id INTEGER PRIMARY KEY,
		user_id TEXT NOT NULL,
		guild_id TEXT NOT NULL,
		url TEXT NOT NULL,
		game TEXT NOT NULL,
		platform TEXT,
		username TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		rejection_reason TEXT,
		processed_by TEXT,
		processed_at DATETIME,
		tracker_id INTEGER,
		notification_sent_at DATETIME,
		notification_claimed_at DATETIME,
		notification_attempts INTEGER NOT NULL DEFAULT 0,
		last_processed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX uq_registrations_url ON registrations (url) WHERE status NOT IN ('REJECTED', 'FAILED')`,
	`CREATE TABLE trackers (
		id INTEGER PRIMARY KEY,
		url TEXT NOT NULL,
		game TEXT NOT NULL,
		platform TEXT NOT NULL,
		username TEXT NOT NULL,
		user_id TEXT NOT NULL,
		registration_id INTEGER,
		display_name TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		scraping_status TEXT NOT NULL DEFAULT 'PENDING',
		scraping_error TEXT,
		scraping_attempts INTEGER NOT NULL DEFAULT 0,
		last_scraped_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX uq_trackers_url ON trackers (url)`,
	`CREATE TABLE idempotency_records (
		message_id TEXT PRIMARY KEY,
		operation_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		metadata TEXT,
		processed_at DATETIME NOT NULL
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		trace_context TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		published_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		guild_id TEXT,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh database. A single connection serialises
// transactions the way row locks would on a server database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
