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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/tomoncle/oneauth/database"
	"github.com/tomoncle/oneauth/events"
	"github.com/tomoncle/oneauth/telemetry"
	"gopkg.in/yaml.v3"
)

// LogConfig selects the logrus level and output format (text or json).
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Config is the complete application configuration.
type Config struct {
	Database     database.Config  `yaml:"database"`
	Log          LogConfig        `yaml:"log"`
	Telemetry    telemetry.Config `yaml:"telemetry"`
	Events       events.Config    `yaml:"events"`
	PasswordCost int              `yaml:"password_cost" env:"PASSWORD_COST"`
}

// Default returns a configuration for a local SQLite database.
func Default() *Config {
	conn := database.DefaultConnectionConfig()
	conn.Type = "sqlite"
	conn.DBName = "oneauth"
	return &Config{
		Database: database.Config{
			ConnectionConfig: *conn,
			DataMigrateConfig: database.DataMigrateConfig{
				EnableMigrateOnStartup: true,
			},
		},
		Log:    LogConfig{Level: "info", Format: "text"},
		Events: events.DefaultConfig(),
	}
}

// Load builds the configuration in three layers: defaults, the YAML file at
// path (skipped when path is empty), then environment variables. Variables
// from envFiles, or from ./.env when none are given, are loaded first and
// never override the real environment.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadDotenv(envFiles); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, section := range []any{&cfg.Log, &cfg.Telemetry, &cfg.Events, cfg} {
		if err := env.Parse(section); err != nil {
			return nil, fmt.Errorf("parse environment: %w", err)
		}
	}
	return cfg, nil
}

func loadDotenv(files []string) error {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return fmt.Errorf("load env files: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
