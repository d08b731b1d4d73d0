/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

var (
	ErrNotConnected    = errors.New("database not connected")
	ErrUnhealthy       = errors.New("database health check failed")
	ErrReconnectFailed = errors.New("database reconnect failed")
)

// dialectSpec knows how to reach one type of database.
type dialectSpec struct {
	driver  func(cfg *ConnectionConfig) string
	dsn     func(cfg *ConnectionConfig) string
	dialect func() schema.Dialect
}

var dialects = map[string]dialectSpec{
	"mysql": {
		driver:  func(*ConnectionConfig) string { return "mysql" },
		dsn:     mysqlDSN,
		dialect: func() schema.Dialect { return mysqldialect.New() },
	},
	"postgres": {
		driver: func(cfg *ConnectionConfig) string {
			// lib/pq registers as "postgres", pgx's stdlib shim as "pgx".
			if cfg.Driver == "pgx" {
				return "pgx"
			}
			return "postgres"
		},
		dsn:     postgresDSN,
		dialect: func() schema.Dialect { return pgdialect.New() },
	},
	"sqlite": {
		driver:  func(*ConnectionConfig) string { return sqliteshim.ShimName },
		dsn:     sqliteDSN,
		dialect: func() schema.Dialect { return sqlitedialect.New() },
	},
}

func lookupDialect(dbType string) (dialectSpec, bool) {
	switch dbType {
	case "postgresql":
		dbType = "postgres"
	case "sqlite3":
		dbType = "sqlite"
	}
	spec, ok := dialects[dbType]
	return spec, ok
}

func supportedTypes() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mysqlDSN(cfg *ConnectionConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c.DBName = cfg.DBName
	c.ParseTime = true
	c.Loc = time.Local
	c.Timeout = cfg.ConnectTimeout
	c.ReadTimeout = cfg.ReadTimeout
	c.WriteTimeout = cfg.WriteTimeout
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

func postgresDSN(cfg *ConnectionConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	query.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.DBName,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func sqliteDSN(cfg *ConnectionConfig) string {
	switch {
	case cfg.DSN != "":
		return cfg.DSN
	case cfg.DBName == "" || cfg.DBName == ":memory:":
		return "file::memory:?cache=shared"
	default:
		return cfg.DBName + ".db"
	}
}

type connManager struct {
	cfg      *ConnectionConfig
	logger   Logger
	reporter FailureReporter

	mu         sync.RWMutex
	db         *bun.DB
	sqlDB      *sql.DB
	reconnects int

	monitorMu   sync.Mutex
	stopMonitor context.CancelFunc
	monitorDone chan struct{}
}

// ManagerOption customises a Manager.
type ManagerOption func(*connManager)

func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *connManager) { m.logger = logger }
}

// WithFailureReporter sends failed health checks and exhausted reconnects
// to reporter.
func WithFailureReporter(reporter FailureReporter) ManagerOption {
	return func(m *connManager) { m.reporter = reporter }
}

// NewManager returns a Bun backed Manager for cfg, or for the default
// configuration when cfg is nil. Nothing is opened until Connect.
func NewManager(cfg *ConnectionConfig, opts ...ManagerOption) Manager {
	if cfg == nil {
		cfg = DefaultConnectionConfig()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	m := &connManager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = NopLogger()
	}
	if m.reporter == nil {
		m.reporter = nopReporter{}
	}
	return m
}

// Connect opens the connection and starts the health monitor when
// HealthCheckInterval is positive. It is a no-op while connected.
func (m *connManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	err := m.open(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if m.cfg.HealthCheckInterval > 0 {
		m.startMonitor()
	}
	return nil
}

// open must be called with mu held.
func (m *connManager) open(ctx context.Context) error {
	if m.db != nil {
		return nil
	}
	spec, ok := lookupDialect(m.cfg.Type)
	if !ok {
		return fmt.Errorf("unsupported database type: %s", m.cfg.Type)
	}

	sqlDB, err := sql.Open(spec.driver(m.cfg), spec.dsn(m.cfg))
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(m.cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(m.cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(m.cfg.ConnMaxIdleTime)

	db := bun.NewDB(sqlDB, spec.dialect())
	if m.cfg.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if m.cfg.SlowQueryTime > 0 {
		db.AddQueryHook(&slowQueryHook{threshold: m.cfg.SlowQueryTime, logger: m.logger})
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("database connection test failed: %w", err)
	}

	m.db, m.sqlDB = db, sqlDB
	m.logger.Info("Database connected", "type", m.cfg.Type, "host", m.cfg.Host, "dbname", m.cfg.DBName)
	return nil
}

// close must be called with mu held.
func (m *connManager) close() error {
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db, m.sqlDB = nil, nil
	if err != nil {
		m.logger.Error("Failed to close database connection", "error", err)
		return err
	}
	m.logger.Info("Database connection closed")
	return nil
}

// Disconnect stops the health monitor and closes the connection.
func (m *connManager) Disconnect() error {
	m.haltMonitor()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.close()
}

// Reconnect replaces the connection. The health monitor keeps running.
func (m *connManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.close(); err != nil {
		m.logger.Warn("Error closing connection before reconnect", "error", err)
	}
	return m.open(ctx)
}

func (m *connManager) Ping(ctx context.Context) error {
	db := m.GetDB()
	if db == nil {
		return ErrNotConnected
	}
	return db.PingContext(ctx)
}

func (m *connManager) GetDB() *bun.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

func (m *connManager) GetSQLDB() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sqlDB
}

func (m *connManager) HealthCheck(ctx context.Context) *HealthStatus {
	m.mu.RLock()
	db, sqlDB, reconnects := m.db, m.sqlDB, m.reconnects
	m.mu.RUnlock()

	status := &HealthStatus{LastCheckTime: time.Now(), Reconnects: reconnects}
	if db == nil {
		status.LastError = ErrNotConnected.Error()
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := db.PingContext(pingCtx)
	cancel()
	status.ResponseTime = time.Since(status.LastCheckTime)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}

	stats := sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections
	return status
}

func (m *connManager) GetStats() *DBStats {
	sqlDB := m.GetSQLDB()
	if sqlDB == nil {
		return &DBStats{}
	}
	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (m *connManager) RunMigrations(ctx context.Context, cfg DataMigrateConfig) error {
	db := m.GetDB()
	if db == nil {
		return ErrNotConnected
	}
	migrations := NewMigrationManager(db, m.logger)
	migrations.EnableForeignKeys(cfg.EnableForeignKey)
	return migrations.RunMigrations(ctx)
}

type nopReporter struct{}

func (nopReporter) CaptureException(error) {}

// slowQueryHook warns about successful queries slower than threshold.
type slowQueryHook struct {
	threshold time.Duration
	logger    Logger
}

func (h *slowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if event.Err != nil {
		return
	}
	if elapsed := time.Since(event.StartTime); elapsed > h.threshold {
		h.logger.Warn("Slow database query", "duration", elapsed, "threshold", h.threshold, "query", event.Query)
	}
}
