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

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tomoncle/oneauth/database"
	"github.com/tomoncle/oneauth/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// newTestDB opens a private in-memory SQLite database with the user tables.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	models.Register()
	require.NoError(t, database.NewMigrationManager(db, database.NopLogger()).RunMigrations(context.Background()))
	return db
}

type emitted struct {
	kind   string
	userID int64
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
	err    error
	panic  bool
}

func (e *fakeEmitter) record(kind string, userID int64) error {
	if e.panic {
		panic("emitter exploded")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{kind, userID})
	return e.err
}

func (e *fakeEmitter) UserCreated(userID int64) error { return e.record("created", userID) }

func (e *fakeEmitter) UserUpdated(userID int64) error { return e.record("updated", userID) }

func (e *fakeEmitter) Events() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.events...)
}

type failingHasher struct{}

func (failingHasher) Hash(string) (string, error) { return "", errors.New("hasher unavailable") }

func insertUser(t *testing.T, db *bun.DB, user *models.User) *models.User {
	t.Helper()
	_, err := db.NewInsert().Model(user).Exec(context.Background())
	require.NoError(t, err)
	return user
}
