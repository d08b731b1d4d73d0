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
	"reflect"
	"slices"
	"sort"
	"time"

	"github.com/tomoncle/oneauth/database"
	"github.com/tomoncle/oneauth/models"
	"github.com/tomoncle/oneauth/passwords"
	"github.com/tomoncle/oneauth/telemetry"
	"github.com/tomoncle/oneauth/types"
	"github.com/tomoncle/oneauth/validation"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

// Columns visible to clients that are not trusted.
var (
	untrustedProfileColumns = []string{"id", "username", "photo"}
	untrustedListColumns    = []string{"id", "username", "email", "firstname", "lastname", "mobile_number"}
)

// EventEmitter raises user lifecycle events. A returned error means the event
// could not be handed off; it never reflects delivery.
type EventEmitter interface {
	UserCreated(userID int64) error
	UserUpdated(userID int64) error
}

// PasswordHasher turns a plain password into its stored form.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Params selects users by column equality. The email column is matched
// case-insensitively.
type Params map[string]any

// Values holds the columns to change in a partial update.
type Values map[string]any

// UserOption customises a UserRepository.
type UserOption func(*UserRepository)

func WithLogger(logger database.Logger) UserOption {
	return func(r *UserRepository) { r.logger = logger }
}

func WithUsernameValidator(validate func(string) string) UserOption {
	return func(r *UserRepository) { r.validateUsername = validate }
}

func WithPasswordHasher(hasher PasswordHasher) UserOption {
	return func(r *UserRepository) { r.hasher = hasher }
}

// UserRepository is the data-access layer for user accounts.
type UserRepository struct {
	db           *bun.DB
	users        Repository[models.User]
	locals       Repository[models.UserLocal]
	demographics Repository[models.Demographic]
	userTable    *schema.Table
	// returning reports whether the dialect can return updated rows.
	returning bool

	emitter          EventEmitter
	reporter         telemetry.Reporter
	logger           database.Logger
	validateUsername func(string) string
	hasher           PasswordHasher
}

func NewUserRepository(db *bun.DB, emitter EventEmitter, reporter telemetry.Reporter, opts ...UserOption) *UserRepository {
	r := &UserRepository{
		db:               db,
		users:            NewRepository[models.User](db),
		locals:           NewRepository[models.UserLocal](db),
		demographics:     NewRepository[models.Demographic](db),
		userTable:        db.Table(reflect.TypeOf((*models.User)(nil)).Elem()),
		returning:        db.HasFeature(feature.Returning),
		emitter:          emitter,
		reporter:         reporter,
		logger:           database.NewNamedLogger("USERS"),
		validateUsername: validation.ValidateUsername,
		hasher:           passwords.NewHasher(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.reporter == nil {
		r.reporter = telemetry.Nop{}
	}
	if r.logger == nil {
		r.logger = database.NopLogger()
	}
	return r
}

func (r *UserRepository) FindAllUsers(ctx context.Context) ([]*models.User, error) {
	return r.users.GetAll(ctx)
}

// FindUserByID returns nil without error when no user has the id.
func (r *UserRepository) FindUserByID(ctx context.Context, id int64, includes ...string) (*models.User, error) {
	if err := checkIncludes(includes, models.UserIncludes); err != nil {
		return nil, err
	}
	user, err := r.users.GetOne(ctx, id, withRelations(includes))
	return notFoundAsNil(user, err)
}

// FindUserByParams returns the first user matching params, or nil.
func (r *UserRepository) FindUserByParams(ctx context.Context, params Params) (*models.User, error) {
	where, err := r.paramsFilter(params)
	if err != nil {
		return nil, err
	}
	users, err := r.users.List(ctx, where, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("?TableAlias.id ASC").Limit(1)
	})
	if err != nil || len(users) == 0 {
		return nil, err
	}
	return users[0], nil
}

// CreateUserLocal registers a user with a password. The user, its credential
// and the included associations are written in one transaction. Persistence
// failures are reported to telemetry and surface only as *RegistrationError.
func (r *UserRepository) CreateUserLocal(ctx context.Context, user *models.User, password string, includes ...string) (*models.UserLocal, error) {
	if msg := r.validateUsername(user.Username); msg != "" {
		return nil, &ValidationError{Field: "username", Message: msg}
	}
	if err := checkIncludes(includes, []string{models.IncludeDemographic}); err != nil {
		return nil, err
	}

	hash, err := r.hasher.Hash(password)
	if err != nil {
		return nil, r.registrationFailed(user, err)
	}

	local := &models.UserLocal{Password: hash}
	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.users.CreateWithTx(ctx, tx, user); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		local.UserID = user.ID
		if err := r.locals.CreateWithTx(ctx, tx, local); err != nil {
			return fmt.Errorf("insert user_local: %w", err)
		}
		if slices.Contains(includes, models.IncludeDemographic) {
			return r.createDemographic(ctx, tx, user)
		}
		return nil
	})
	if err != nil {
		return nil, r.registrationFailed(user, err)
	}
	local.User = user

	r.emitCreated(user.ID)
	return local, nil
}

// CreateUserWithoutPassword inserts a user and, when set, its Demographic.
// No event is raised and errors are returned unchanged.
func (r *UserRepository) CreateUserWithoutPassword(ctx context.Context, user *models.User) (*models.User, error) {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.users.CreateWithTx(ctx, tx, user); err != nil {
			return err
		}
		return r.createDemographic(ctx, tx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	if err := r.users.Create(ctx, user); err != nil {
		return nil, err
	}
	r.emitCreated(user.ID)
	return user, nil
}

func (r *UserRepository) UpdateUserByID(ctx context.Context, userID int64, values Values) ([]*models.User, error) {
	updated, err := r.update(ctx, types.NewQueryFilter("?TableAlias.id = ?", userID), values)
	if err != nil {
		return nil, err
	}
	r.emitUpdated(userID)
	return updated, nil
}

// UpdateUserByParams updates every matching user. The event is keyed by one
// matching user looked up after the update, so it is skipped when the update
// moved all rows out of the selection.
func (r *UserRepository) UpdateUserByParams(ctx context.Context, where Params, values Values) ([]*models.User, error) {
	filter, err := r.paramsFilter(where)
	if err != nil {
		return nil, err
	}
	updated, err := r.update(ctx, filter, values)
	if err != nil {
		return nil, err
	}

	var ids []int64
	err = r.db.NewSelect().
		Model((*models.User)(nil)).
		Column("id").
		Where(filter.Schema, filter.Args...).
		OrderExpr("?TableAlias.id ASC").
		Limit(1).
		Scan(ctx, &ids)
	switch {
	case err != nil:
		r.logger.Warn("Lookup for user update event failed", "error", err.Error())
		r.reporter.CaptureException(fmt.Errorf("lookup updated user: %w", err))
	case len(ids) == 0:
		r.logger.Debug("No user left matching update selection, event skipped")
	default:
		r.emitUpdated(ids[0])
	}
	return updated, nil
}

// FindUserForTrustedClient loads a user with its demographic details.
// Untrusted clients only see the id, username and photo columns of the user
// row. The demographic, with its college, branch and address, is returned in
// full to trusted and untrusted clients alike.
func (r *UserRepository) FindUserForTrustedClient(ctx context.Context, trusted bool, userID int64) (*models.User, error) {
	mods := []QueryModifier{withRelations([]string{
		models.IncludeDemographicCollege,
		models.IncludeDemographicBranch,
		models.IncludeDemographicAddress,
	})}
	if !trusted {
		mods = append(mods, withColumns(untrustedProfileColumns))
	}
	user, err := r.users.GetOne(ctx, userID, mods...)
	return notFoundAsNil(user, err)
}

// FindAllUsersWithFilter lists users matching filter. An invalid filter value
// is rejected before any query runs.
func (r *UserRepository) FindAllUsersWithFilter(ctx context.Context, trusted bool, filter UserFilter) ([]*models.User, error) {
	where, err := filter.Build()
	if err != nil {
		return nil, err
	}
	return r.users.List(ctx, where, visibleColumns(trusted))
}

// PageUsersWithFilter is FindAllUsersWithFilter with pagination.
func (r *UserRepository) PageUsersWithFilter(ctx context.Context, trusted bool, filter UserFilter, page, pageSize int) (*types.Pagination[models.User], error) {
	where, err := filter.Build()
	if err != nil {
		return nil, err
	}
	return r.users.Page(ctx, types.NewPageRequest(page, pageSize, where, nil), visibleColumns(trusted))
}

// update applies values to the users selected by filter and returns them as
// stored afterwards.
func (r *UserRepository) update(ctx context.Context, filter *types.QueryFilter, values Values) ([]*models.User, error) {
	keys, err := r.checkColumns(values)
	if err != nil {
		return nil, err
	}
	if slices.Contains(keys, "id") {
		return nil, fmt.Errorf("%w: id", ErrImmutableColumn)
	}
	set := func(q *bun.UpdateQuery) *bun.UpdateQuery {
		for _, key := range keys {
			q = q.Set("? = ?", bun.Ident(key), values[key])
		}
		if _, ok := values["updated_at"]; !ok {
			q = q.Set("? = ?", bun.Ident("updated_at"), time.Now().UTC())
		}
		return q
	}

	updated := make([]*models.User, 0)
	if r.returning {
		err := r.db.NewUpdate().
			Model((*models.User)(nil)).
			Apply(set).
			Where(filter.Schema, filter.Args...).
			Returning("*").
			Scan(ctx, &updated)
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	// Without RETURNING the rows are captured by id first, since the update
	// may change the columns the filter selects on.
	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var ids []int64
		err := tx.NewSelect().
			Model((*models.User)(nil)).
			Column("id").
			Where(filter.Schema, filter.Args...).
			Scan(ctx, &ids)
		if err != nil || len(ids) == 0 {
			return err
		}
		_, err = tx.NewUpdate().
			Model((*models.User)(nil)).
			Apply(set).
			Where("?TableAlias.id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return err
		}
		return tx.NewSelect().
			Model(&updated).
			Where("?TableAlias.id IN (?)", bun.In(ids)).
			OrderExpr("?TableAlias.id ASC").
			Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *UserRepository) createDemographic(ctx context.Context, tx bun.IDB, user *models.User) error {
	if user.Demographic == nil {
		return nil
	}
	user.Demographic.UserID = user.ID
	if err := r.demographics.CreateWithTx(ctx, tx, user.Demographic); err != nil {
		return fmt.Errorf("insert demographic: %w", err)
	}
	return nil
}

func (r *UserRepository) registrationFailed(user *models.User, cause error) error {
	_, class := database.IsSqlError(cause)
	r.logger.Error("User registration failed", "username", user.Username, "sql_error", class.String(), "error", cause.Error())
	r.reporter.CaptureException(fmt.Errorf("register user %q: %w", user.Username, cause))
	return &RegistrationError{}
}

func (r *UserRepository) emitCreated(userID int64) {
	r.emit(func() error { return r.emitter.UserCreated(userID) })
}

func (r *UserRepository) emitUpdated(userID int64) {
	r.emit(func() error { return r.emitter.UserUpdated(userID) })
}

// emit never fails the calling operation. Hand-off errors and panics go to
// telemetry.
func (r *UserRepository) emit(raise func() error) {
	if r.emitter == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.reporter.CaptureException(fmt.Errorf("user event panicked: %v", p))
		}
	}()
	if err := raise(); err != nil {
		r.logger.Warn("User event not raised", "error", err.Error())
		r.reporter.CaptureException(err)
	}
}

// checkColumns returns the keys of m in sorted order, rejecting any that is
// not a users column.
func (r *UserRepository) checkColumns(m map[string]any) ([]string, error) {
	keys := make([]string, 0, len(m))
	for key := range m {
		if !r.userTable.HasField(key) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *UserRepository) paramsFilter(params Params) (*types.QueryFilter, error) {
	keys, err := r.checkColumns(params)
	if err != nil {
		return nil, err
	}
	var filter *types.QueryFilter
	for _, key := range keys {
		if key == "email" {
			filter = filter.And("LOWER(?TableAlias.email) LIKE LOWER(?)", params[key])
			continue
		}
		filter = filter.And("?TableAlias.? = ?", bun.Ident(key), params[key])
	}
	if filter == nil {
		filter = types.NewQueryFilter("1 = 1")
	}
	return filter, nil
}

func checkIncludes(includes, allowed []string) error {
	for _, include := range includes {
		if !slices.Contains(allowed, include) {
			return fmt.Errorf("%w: %q", ErrUnknownInclude, include)
		}
	}
	return nil
}

func withRelations(includes []string) QueryModifier {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		for _, include := range includes {
			q = q.Relation(include)
		}
		return q
	}
}

// withColumns qualifies the columns so they stay unambiguous next to joined
// relations.
func withColumns(columns []string) QueryModifier {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		for _, column := range columns {
			q = q.ColumnExpr("?TableAlias.?", bun.Ident(column))
		}
		return q
	}
}

func visibleColumns(trusted bool) QueryModifier {
	if trusted {
		return nil
	}
	return withColumns(untrustedListColumns)
}

func notFoundAsNil(user *models.User, err error) (*models.User, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
