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

package oneauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tomoncle/oneauth/config"
	"github.com/tomoncle/oneauth/database"
	"github.com/tomoncle/oneauth/events"
	"github.com/tomoncle/oneauth/models"
	"github.com/tomoncle/oneauth/passwords"
	"github.com/tomoncle/oneauth/repository"
	"github.com/tomoncle/oneauth/telemetry"
	"github.com/tomoncle/oneauth/utils"
	"github.com/uptrace/bun"
)

// Compile-time check that the dispatcher can back the user repository.
var _ repository.EventEmitter = (*events.Dispatcher)(nil)

// App holds the wired user data-access layer.
type App struct {
	Config    *config.Config
	DB        *bun.DB
	Users     *repository.UserRepository
	Colleges  Service[models.College]
	Branches  Service[models.Branch]
	Addresses Service[models.Address]
	Events    *events.Dispatcher
	Reporter  telemetry.Reporter

	logger         database.Logger
	closePublisher func() error
}

// New connects to the configured database and builds the repositories with
// their telemetry and event collaborators. reg may be nil, in which case the
// default Prometheus registerer is used.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	utils.ConfigureLogging(cfg.Log.Level, cfg.Log.Format)
	logger := database.NewNamedLogger("ONEAUTH")

	reporter, err := telemetry.New(cfg.Telemetry, database.NewNamedLogger("TELEMETRY"))
	if err != nil {
		return nil, err
	}

	models.Register()
	db, err := database.InitDB(ctx, &cfg.Database,
		database.WithManagerLogger(database.NewNamedLogger("DATABASE")),
		database.WithFailureReporter(reporter),
	)
	if err != nil {
		return nil, err
	}

	publisher, closePublisher, err := events.NewPublisher(ctx, cfg.Events, database.NewNamedLogger("EVENTS"))
	if err != nil {
		_ = database.CloseDB()
		return nil, fmt.Errorf("init event publisher: %w", err)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	events.RegisterMetrics(reg)
	dispatcher := events.NewDispatcher(publisher, reporter, database.NewNamedLogger("EVENTS"), cfg.Events)

	users := repository.NewUserRepository(db, dispatcher, reporter,
		repository.WithLogger(database.NewNamedLogger("USERS")),
		repository.WithPasswordHasher(passwords.NewHasher(cfg.PasswordCost)),
	)

	logger.Info("User data layer ready", "database", cfg.Database.ConnectionConfig.Type)
	return &App{
		Config:         cfg,
		DB:             db,
		Users:          users,
		Colleges:       NewService[models.College](db),
		Branches:       NewService[models.Branch](db),
		Addresses:      NewService[models.Address](db),
		Events:         dispatcher,
		Reporter:       reporter,
		logger:         logger,
		closePublisher: closePublisher,
	}, nil
}

// Close drains pending events, flushes telemetry and closes the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Events.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
	}
	if err := a.closePublisher(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if !a.Reporter.Flush(2 * time.Second) {
		a.logger.Warn("Telemetry flush timed out")
	}
	if err := database.CloseDB(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
