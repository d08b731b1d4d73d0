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
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/uptrace/bun"
)

// Factory builds a Manager from configuration and runs the startup steps:
// connect, register models, migrate.
type Factory struct {
	manager Manager
	logger  Logger
	opts    []ManagerOption
}

// NewDatabaseFactory returns a factory logging through the package logger.
// opts are passed to every Manager it creates.
func NewDatabaseFactory(opts ...ManagerOption) *Factory {
	return &Factory{logger: GetLogger(), opts: opts}
}

// CreateFromConfig applies the DB_* environment overrides to cfg and builds
// a Manager for it.
func (f *Factory) CreateFromConfig(cfg *ConnectionConfig) (Manager, error) {
	if cfg == nil {
		return nil, errors.New("database configuration cannot be empty")
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse database environment: %w", err)
	}
	if _, ok := lookupDialect(cfg.Type); !ok {
		return nil, fmt.Errorf("unsupported database type: %s, supported types: %v", cfg.Type, supportedTypes())
	}

	opts := append([]ManagerOption{WithManagerLogger(f.logger)}, f.opts...)
	f.manager = NewManager(cfg, opts...)
	return f.manager, nil
}

// Initialize connects, registers the known models with Bun and, when enabled,
// creates their tables.
func (f *Factory) Initialize(ctx context.Context, migrate DataMigrateConfig) error {
	if f.manager == nil {
		return errors.New("database manager not created")
	}
	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	f.manager.GetDB().RegisterModel(RegisteredModelInstances()...)

	if migrate.EnableMigrateOnStartup {
		if err := f.manager.RunMigrations(ctx, migrate); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}
	f.logger.Info("Database initialization completed")
	return nil
}

func (f *Factory) Manager() Manager {
	return f.manager
}

// DB returns nil until a manager is created.
func (f *Factory) DB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

func (f *Factory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

func (f *Factory) Health(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{LastError: "database manager not initialized", LastCheckTime: time.Now()}
	}
	return f.manager.HealthCheck(ctx)
}

func (f *Factory) Stats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}
