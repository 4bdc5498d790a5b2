// Package db provides PostgreSQL access for the calendar archive's local
// store: the destination repository for archived appointments, audit
// logs, reversible operations, and entity associations.
package db

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database connection parameters.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps a PostgreSQL connection pool.
type Database struct {
	db *sql.DB
}

func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// NewDatabase opens a connection pool and verifies connectivity.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

// NewDatabaseForTesting wraps an existing *sql.DB (e.g. sqlmock) for tests.
func NewDatabaseForTesting(sqlDB *sql.DB) *Database {
	return &Database{db: sqlDB}
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate runs schema creation for all tables this system owns.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS appointments (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			calendar_uri TEXT NOT NULL,
			ms_event_id VARCHAR(512) DEFAULT '',
			subject TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			location_id BIGINT,
			location TEXT DEFAULT '',
			category_id BIGINT,
			categories TEXT[] DEFAULT '{}',
			timesheet_id BIGINT,
			recurrence TEXT DEFAULT '',
			show_as VARCHAR(20) DEFAULT 'busy',
			sensitivity VARCHAR(20) DEFAULT 'normal',
			importance VARCHAR(10) DEFAULT 'normal',
			is_archived BOOLEAN DEFAULT false,
			created_at TIMESTAMPTZ DEFAULT now(),
			updated_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_user_id ON appointments(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_user_start ON appointments(user_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_ms_event_id ON appointments(ms_event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_is_archived ON appointments(is_archived)`,

		`CREATE TABLE IF NOT EXISTS action_logs (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			state VARCHAR(20) NOT NULL DEFAULT 'open',
			description TEXT NOT NULL,
			details JSONB,
			ai_recommendation TEXT DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT now(),
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_action_logs_state ON action_logs(state)`,
		`CREATE INDEX IF NOT EXISTS idx_action_logs_user_id ON action_logs(user_id)`,

		`CREATE TABLE IF NOT EXISTS entity_associations (
			id BIGSERIAL PRIMARY KEY,
			source_type VARCHAR(100) NOT NULL,
			source_id BIGINT NOT NULL,
			target_type VARCHAR(100) NOT NULL,
			target_id BIGINT NOT NULL,
			association_type VARCHAR(100) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now(),
			UNIQUE(source_type, source_id, target_type, target_id, association_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_assoc_source ON entity_associations(source_type, source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_assoc_target ON entity_associations(target_type, target_id)`,

		`CREATE TABLE IF NOT EXISTS archive_configurations (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			name VARCHAR(255) NOT NULL,
			source_uri TEXT NOT NULL,
			destination_uri TEXT NOT NULL,
			is_active BOOLEAN DEFAULT true,
			timezone VARCHAR(100) DEFAULT 'UTC',
			allow_overlaps BOOLEAN DEFAULT false,
			archive_purpose VARCHAR(20) NOT NULL DEFAULT 'general',
			include_travel BOOLEAN DEFAULT false,
			created_at TIMESTAMPTZ DEFAULT now(),
			updated_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archive_configs_user_id ON archive_configurations(user_id)`,

		`CREATE TABLE IF NOT EXISTS audit_logs (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			action_type VARCHAR(100) NOT NULL,
			operation VARCHAR(255) NOT NULL,
			resource_type VARCHAR(100) DEFAULT '',
			resource_id VARCHAR(255) DEFAULT '',
			status VARCHAR(20) NOT NULL,
			message TEXT DEFAULT '',
			details JSONB,
			request_data JSONB,
			response_data JSONB,
			duration_ms BIGINT,
			correlation_id VARCHAR(100) NOT NULL,
			parent_audit_id BIGINT REFERENCES audit_logs(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_correlation_id ON audit_logs(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_parent_id ON audit_logs(parent_audit_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS reversible_operations (
			id BIGSERIAL PRIMARY KEY,
			audit_log_id BIGINT REFERENCES audit_logs(id) ON DELETE SET NULL,
			user_id BIGINT NOT NULL,
			operation_type VARCHAR(100) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			correlation_id VARCHAR(100) NOT NULL,
			depends_on BIGINT[] DEFAULT '{}',
			blocks BIGINT[] DEFAULT '{}',
			is_reversible BOOLEAN DEFAULT true,
			is_reversed BOOLEAN DEFAULT false,
			reverse_reason TEXT DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT now(),
			reversed_at TIMESTAMPTZ,
			reversed_by_user_id BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reversible_ops_correlation_id ON reversible_operations(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reversible_ops_is_reversed ON reversible_operations(is_reversed)`,

		`CREATE TABLE IF NOT EXISTS reversible_operation_items (
			id BIGSERIAL PRIMARY KEY,
			operation_id BIGINT NOT NULL REFERENCES reversible_operations(id) ON DELETE CASCADE,
			item_type VARCHAR(100) NOT NULL,
			item_id BIGINT NOT NULL,
			external_id VARCHAR(512) DEFAULT '',
			before_state JSONB,
			after_state JSONB,
			reverse_action VARCHAR(20) NOT NULL,
			reverse_data JSONB,
			is_reversed BOOLEAN DEFAULT false,
			reverse_error TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reversible_items_operation_id ON reversible_operation_items(operation_id)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
