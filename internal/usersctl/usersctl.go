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

package usersctl

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tomoncle/oneauth"
	"github.com/tomoncle/oneauth/config"
	"github.com/tomoncle/oneauth/database"
	"github.com/tomoncle/oneauth/models"
	"github.com/tomoncle/oneauth/repository"
	"github.com/tomoncle/oneauth/utils"
)

// ErrUsage is returned for a missing or unknown command.
var ErrUsage = errors.New("usage: usersctl [-config file] [-env file] <migrate|health|find|filter|colleges> [flags]")

// Config holds the global flags and the selected command.
type Config struct {
	ConfigPath string
	EnvFile    string
	Command    string
	Args       []string
}

// ParseConfig reads global flags from args. The first positional argument
// names the command; the rest are passed to it.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.ConfigPath, "config", utils.EnvDefaultString("ONEAUTH_CONFIG", ""), "YAML configuration file")
	fs.StringVar(&cfg.EnvFile, "env", "", "dotenv file loaded before the environment is read")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() == 0 {
		return cfg, ErrUsage
	}
	cfg.Command = fs.Arg(0)
	cfg.Args = fs.Args()[1:]
	return cfg, nil
}

type command func(ctx context.Context, app *oneauth.App, args []string, out io.Writer) error

var commands = map[string]command{
	"migrate":  runMigrate,
	"health":   runHealth,
	"find":     runFind,
	"filter":   runFilter,
	"colleges": runColleges,
}

// Run opens the data layer, executes the command and writes its result as
// JSON to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	cmd, ok := commands[cfg.Command]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cfg.Command)
	}

	var envFiles []string
	if cfg.EnvFile != "" {
		envFiles = append(envFiles, cfg.EnvFile)
	}
	appCfg, err := config.Load(cfg.ConfigPath, envFiles...)
	if err != nil {
		return err
	}
	if cfg.Command == "migrate" {
		appCfg.Database.DataMigrateConfig.EnableMigrateOnStartup = true
	}

	app, err := oneauth.New(ctx, appCfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Close(closeCtx)
	}()

	return cmd(ctx, app, cfg.Args, out)
}

func runMigrate(ctx context.Context, app *oneauth.App, _ []string, out io.Writer) error {
	applied, err := database.NewMigrationManager(app.DB, database.NewNamedLogger("MIGRATE")).GetAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	return writeJSON(out, applied)
}

func runHealth(ctx context.Context, _ *oneauth.App, _ []string, out io.Writer) error {
	return writeJSON(out, map[string]any{
		"health": database.GetHealthStatus(ctx),
		"stats":  database.GetDatabaseStats(),
	})
}

func runFind(ctx context.Context, app *oneauth.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.Int64("id", 0, "user id")
	include := fs.String("include", "", "comma separated relations, e.g. Demographic,Demographic.College")
	trusted := fs.Bool("trusted", false, "load the full profile as a trusted client; -trusted=false shows the public profile")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("%w: find requires -id", ErrUsage)
	}

	var includes []string
	if *include != "" {
		includes = strings.Split(*include, ",")
	}
	var (
		user *models.User
		err  error
	)
	if isSet(fs, "trusted") {
		user, err = app.Users.FindUserForTrustedClient(ctx, *trusted, *id)
	} else {
		user, err = app.Users.FindUserByID(ctx, *id, includes...)
	}
	if err != nil {
		return err
	}
	return writeJSON(out, user)
}

// runFilter takes key=value criteria, e.g. firstname=ali contact=98.
func runFilter(ctx context.Context, app *oneauth.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	trusted := fs.Bool("trusted", false, "return every column")
	page := fs.Int("page", 0, "page number, 0 lists everything")
	pageSize := fs.Int("page-size", 20, "rows per page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	criteria := make(map[string]string, fs.NArg())
	for _, arg := range fs.Args() {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("%w: filter criterion %q is not key=value", ErrUsage, arg)
		}
		criteria[key] = value
	}
	filter, err := repository.ParseUserFilter(criteria)
	if err != nil {
		return err
	}

	if *page > 0 {
		result, err := app.Users.PageUsersWithFilter(ctx, *trusted, filter, *page, *pageSize)
		if err != nil {
			return err
		}
		return writeJSON(out, result)
	}
	users, err := app.Users.FindAllUsersWithFilter(ctx, *trusted, filter)
	if err != nil {
		return err
	}
	return writeJSON(out, users)
}

func runColleges(ctx context.Context, app *oneauth.App, _ []string, out io.Writer) error {
	colleges, err := app.Colleges.All(ctx)
	if err != nil {
		return err
	}
	return writeJSON(out, colleges)
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
