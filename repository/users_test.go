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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tomoncle/oneauth/models"
	"github.com/tomoncle/oneauth/passwords"
	"github.com/tomoncle/oneauth/telemetry"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

type userFixture struct {
	ctx      context.Context
	db       *bun.DB
	repo     *UserRepository
	emitter  *fakeEmitter
	reporter *telemetry.Recorder
}

func newUserFixture(t *testing.T, opts ...UserOption) *userFixture {
	db := newTestDB(t)
	f := &userFixture{
		ctx:      context.Background(),
		db:       db,
		emitter:  &fakeEmitter{},
		reporter: &telemetry.Recorder{},
	}
	opts = append([]UserOption{WithPasswordHasher(passwords.NewHasher(bcrypt.MinCost))}, opts...)
	f.repo = NewUserRepository(db, f.emitter, f.reporter, opts...)
	return f
}

func (f *userFixture) countRows(t *testing.T, model any) int {
	n, err := f.db.NewSelect().Model(model).Count(f.ctx)
	require.NoError(t, err)
	return n
}

func TestFindAllUsers(t *testing.T) {
	f := newUserFixture(t)

	users, err := f.repo.FindAllUsers(f.ctx)
	require.NoError(t, err)
	require.Empty(t, users)

	insertUser(t, f.db, &models.User{Username: "alice"})
	insertUser(t, f.db, &models.User{Username: "bob"})

	users, err = f.repo.FindAllUsers(f.ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
}

func TestFindUserByID(t *testing.T) {
	f := newUserFixture(t)
	alice := insertUser(t, f.db, &models.User{Username: "alice"})
	_, err := f.db.NewInsert().Model(&models.Demographic{UserID: alice.ID, Gender: "F"}).Exec(f.ctx)
	require.NoError(t, err)

	t.Run("found", func(t *testing.T) {
		user, err := f.repo.FindUserByID(f.ctx, alice.ID)
		require.NoError(t, err)
		require.Equal(t, "alice", user.Username)
		require.Nil(t, user.Demographic)
	})

	t.Run("missing", func(t *testing.T) {
		user, err := f.repo.FindUserByID(f.ctx, alice.ID+100)
		require.NoError(t, err)
		require.Nil(t, user)
	})

	t.Run("with include", func(t *testing.T) {
		user, err := f.repo.FindUserByID(f.ctx, alice.ID, models.IncludeDemographic)
		require.NoError(t, err)
		require.NotNil(t, user.Demographic)
		require.Equal(t, "F", user.Demographic.Gender)
	})

	t.Run("unknown include", func(t *testing.T) {
		_, err := f.repo.FindUserByID(f.ctx, alice.ID, "Sessions")
		require.ErrorIs(t, err, ErrUnknownInclude)
	})
}

func TestFindUserByParams(t *testing.T) {
	f := newUserFixture(t)
	insertUser(t, f.db, &models.User{Username: "alice", Email: "Alice@Example.com", Role: "admin"})
	insertUser(t, f.db, &models.User{Username: "bob", Email: "bob@example.com"})

	user, err := f.repo.FindUserByParams(f.ctx, Params{"email": "alice@example.COM"})
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)

	user, err = f.repo.FindUserByParams(f.ctx, Params{"username": "bob", "email": "BOB@example.com"})
	require.NoError(t, err)
	require.Equal(t, "bob", user.Username)

	user, err = f.repo.FindUserByParams(f.ctx, Params{"username": "carol"})
	require.NoError(t, err)
	require.Nil(t, user)

	_, err = f.repo.FindUserByParams(f.ctx, Params{"password": "x"})
	require.ErrorIs(t, err, ErrUnknownColumn)
}

func TestCreateUserLocal(t *testing.T) {
	t.Run("invalid username", func(t *testing.T) {
		f := newUserFixture(t)

		_, err := f.repo.CreateUserLocal(f.ctx, &models.User{Username: "x!"}, "pw")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.NotEmpty(t, verr.Message)
		require.Zero(t, f.countRows(t, (*models.User)(nil)))
		require.Zero(t, f.countRows(t, (*models.UserLocal)(nil)))
		require.Empty(t, f.emitter.Events())
	})

	t.Run("custom validator", func(t *testing.T) {
		f := newUserFixture(t, WithUsernameValidator(func(string) string { return "taken" }))

		_, err := f.repo.CreateUserLocal(f.ctx, &models.User{Username: "alice"}, "pw")
		require.EqualError(t, err, "taken")
	})

	t.Run("success", func(t *testing.T) {
		f := newUserFixture(t)

		local, err := f.repo.CreateUserLocal(f.ctx, &models.User{Username: "alice", Email: "a@x.io"}, "s3cret")
		require.NoError(t, err)
		require.NotZero(t, local.User.ID)
		require.Equal(t, local.User.ID, local.UserID)
		require.NotEqual(t, "s3cret", local.Password)
		require.NoError(t, bcrypt.CompareHashAndPassword([]byte(local.Password), []byte("s3cret")))
		require.Equal(t, []emitted{{"created", local.User.ID}}, f.emitter.Events())
		require.Equal(t, 1, f.countRows(t, (*models.UserLocal)(nil)))
	})

	t.Run("with demographic", func(t *testing.T) {
		f := newUserFixture(t)
		user := &models.User{Username: "alice", Demographic: &models.Demographic{Gender: "F"}}

		local, err := f.repo.CreateUserLocal(f.ctx, user, "pw", models.IncludeDemographic)
		require.NoError(t, err)

		found, err := f.repo.FindUserByID(f.ctx, local.User.ID, models.IncludeDemographic)
		require.NoError(t, err)
		require.NotNil(t, found.Demographic)
		require.Equal(t, "F", found.Demographic.Gender)
	})

	t.Run("demographic not included", func(t *testing.T) {
		f := newUserFixture(t)
		user := &models.User{Username: "alice", Demographic: &models.Demographic{Gender: "F"}}

		_, err := f.repo.CreateUserLocal(f.ctx, user, "pw")
		require.NoError(t, err)
		require.Zero(t, f.countRows(t, (*models.Demographic)(nil)))
	})

	t.Run("unknown include", func(t *testing.T) {
		f := newUserFixture(t)

		_, err := f.repo.CreateUserLocal(f.ctx, &models.User{Username: "alice"}, "pw", models.IncludeDemographicCollege)
		require.ErrorIs(t, err, ErrUnknownInclude)
		require.Zero(t, f.countRows(t, (*models.User)(nil)))
	})

	t.Run("duplicate username", func(t *testing.T) {
		f := newUserFixture(t)
		insertUser(t, f.db, &models.User{Username: "alice"})

		_, err := f.repo.CreateUserLocal(f.ctx, &models.User{Username: "alice"}, "pw")
		var rerr *RegistrationError
		require.ErrorAs(t, err, &rerr)
		require.Equal(t, RegistrationFailedMessage, err.Error())
		require.Len(t, f.reporter.Errors(), 1)
		require.Empty(t, f.emitter.Events())
		require.Zero(t, f.countRows(t, (*models.UserLocal)(nil)))
	})

	t.Run("hash failure", func(t *testing.T) {
		f := newUserFixture(t, WithPasswordHasher(failingHasher{}))

		_, err := f.repo.CreateUserLocal(f.ctx, &models.User{Username: "alice"}, "pw")
		var rerr *RegistrationError
		require.ErrorAs(t, err, &rerr)
		require.Len(t, f.reporter.Errors(), 1)
		require.Zero(t, f.countRows(t, (*models.User)(nil)))
	})
}

func TestCreateUserWithoutPassword(t *testing.T) {
	f := newUserFixture(t)

	user, err := f.repo.CreateUserWithoutPassword(f.ctx, &models.User{
		Username:    "alice",
		Demographic: &models.Demographic{Gender: "F"},
	})
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	require.Equal(t, user.ID, user.Demographic.UserID)
	require.Equal(t, 1, f.countRows(t, (*models.Demographic)(nil)))
	require.Zero(t, f.countRows(t, (*models.UserLocal)(nil)))
	require.Empty(t, f.emitter.Events())

	_, err = f.repo.CreateUserWithoutPassword(f.ctx, &models.User{Username: "alice"})
	require.Error(t, err)
	require.Empty(t, f.reporter.Errors())
}

func TestCreateUser(t *testing.T) {
	f := newUserFixture(t)

	user, err := f.repo.CreateUser(f.ctx, &models.User{Username: "alice"})
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	require.Equal(t, []emitted{{"created", user.ID}}, f.emitter.Events())

	_, err = f.repo.CreateUser(f.ctx, &models.User{Username: "alice"})
	require.Error(t, err)
	require.Len(t, f.emitter.Events(), 1)
}

func TestEventFailureDoesNotFailOperation(t *testing.T) {
	f := newUserFixture(t)
	f.emitter.err = context.DeadlineExceeded

	user, err := f.repo.CreateUser(f.ctx, &models.User{Username: "alice"})
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	require.Len(t, f.reporter.Errors(), 1)

	f.emitter.panic = true
	_, err = f.repo.UpdateUserByID(f.ctx, user.ID, Values{"photo": "p.png"})
	require.NoError(t, err)
	require.Len(t, f.reporter.Errors(), 2)
}

func TestUpdateUserByID(t *testing.T) {
	f := newUserFixture(t)
	alice := insertUser(t, f.db, &models.User{Username: "alice", Firstname: "Al"})
	insertUser(t, f.db, &models.User{Username: "bob", Firstname: "Bo"})

	updated, err := f.repo.UpdateUserByID(f.ctx, alice.ID, Values{"firstname": "Alice", "role": "admin"})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.Equal(t, "Alice", updated[0].Firstname)
	require.Equal(t, "admin", updated[0].Role)
	require.Equal(t, []emitted{{"updated", alice.ID}}, f.emitter.Events())

	bob, err := f.repo.FindUserByParams(f.ctx, Params{"username": "bob"})
	require.NoError(t, err)
	require.Equal(t, "Bo", bob.Firstname)

	_, err = f.repo.UpdateUserByID(f.ctx, alice.ID, Values{"id": 9})
	require.ErrorIs(t, err, ErrImmutableColumn)

	_, err = f.repo.UpdateUserByID(f.ctx, alice.ID, Values{"nickname": "x"})
	require.ErrorIs(t, err, ErrUnknownColumn)
	require.Len(t, f.emitter.Events(), 1)
}

func TestUpdateUserByIDVerifiesEmail(t *testing.T) {
	f := newUserFixture(t)
	alice := insertUser(t, f.db, &models.User{Username: "alice"})

	now := time.Now().UTC().Truncate(time.Second)
	updated, err := f.repo.UpdateUserByID(f.ctx, alice.ID, Values{"verifiedemail": now})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.NotNil(t, updated[0].VerifiedEmail)
}

func TestUpdateUserByParams(t *testing.T) {
	t.Run("matches case-insensitive email", func(t *testing.T) {
		f := newUserFixture(t)
		alice := insertUser(t, f.db, &models.User{Username: "alice", Email: "Alice@Example.com"})
		insertUser(t, f.db, &models.User{Username: "bob", Email: "bob@example.com"})

		updated, err := f.repo.UpdateUserByParams(f.ctx, Params{"email": "alice@example.com"}, Values{"photo": "a.png"})
		require.NoError(t, err)
		require.Len(t, updated, 1)
		require.Equal(t, "a.png", updated[0].Photo)
		require.Equal(t, []emitted{{"updated", alice.ID}}, f.emitter.Events())
	})

	t.Run("several rows", func(t *testing.T) {
		f := newUserFixture(t)
		insertUser(t, f.db, &models.User{Username: "alice", Role: "student"})
		insertUser(t, f.db, &models.User{Username: "bob", Role: "student"})

		updated, err := f.repo.UpdateUserByParams(f.ctx, Params{"role": "student"}, Values{"photo": "x.png"})
		require.NoError(t, err)
		require.Len(t, updated, 2)
		require.Len(t, f.emitter.Events(), 1)
	})

	t.Run("no match", func(t *testing.T) {
		f := newUserFixture(t)
		insertUser(t, f.db, &models.User{Username: "alice"})

		updated, err := f.repo.UpdateUserByParams(f.ctx, Params{"username": "carol"}, Values{"photo": "x.png"})
		require.NoError(t, err)
		require.Empty(t, updated)
		require.Empty(t, f.emitter.Events())
	})

	t.Run("selection column changed", func(t *testing.T) {
		f := newUserFixture(t)
		insertUser(t, f.db, &models.User{Username: "alice", Role: "student"})

		updated, err := f.repo.UpdateUserByParams(f.ctx, Params{"role": "student"}, Values{"role": "alumni"})
		require.NoError(t, err)
		require.Len(t, updated, 1)
		require.Equal(t, "alumni", updated[0].Role)
		require.Empty(t, f.emitter.Events())
	})

	t.Run("unknown column", func(t *testing.T) {
		f := newUserFixture(t)

		_, err := f.repo.UpdateUserByParams(f.ctx, Params{"nickname": "x"}, Values{"photo": "x.png"})
		require.ErrorIs(t, err, ErrUnknownColumn)
	})
}

func TestUpdateWithoutReturning(t *testing.T) {
	newFixture := func(t *testing.T) *userFixture {
		f := newUserFixture(t)
		f.repo.returning = false
		return f
	}

	t.Run("reloads updated rows", func(t *testing.T) {
		f := newFixture(t)
		alice := insertUser(t, f.db, &models.User{Username: "alice", Role: "student"})
		bob := insertUser(t, f.db, &models.User{Username: "bob", Role: "student"})
		insertUser(t, f.db, &models.User{Username: "carol", Role: "staff"})

		updated, err := f.repo.UpdateUserByParams(f.ctx, Params{"role": "student"}, Values{"photo": "x.png"})
		require.NoError(t, err)
		require.Len(t, updated, 2)
		require.Equal(t, alice.ID, updated[0].ID)
		require.Equal(t, bob.ID, updated[1].ID)
		for _, u := range updated {
			require.Equal(t, "x.png", u.Photo)
		}

		carol, err := f.repo.FindUserByParams(f.ctx, Params{"username": "carol"})
		require.NoError(t, err)
		require.Empty(t, carol.Photo)
	})

	t.Run("selection column changed", func(t *testing.T) {
		f := newFixture(t)
		alice := insertUser(t, f.db, &models.User{Username: "alice", Role: "student"})

		updated, err := f.repo.UpdateUserByID(f.ctx, alice.ID, Values{"role": "alumni"})
		require.NoError(t, err)
		require.Len(t, updated, 1)
		require.Equal(t, "alumni", updated[0].Role)
		require.Equal(t, []emitted{{"updated", alice.ID}}, f.emitter.Events())

		updated, err = f.repo.UpdateUserByParams(f.ctx, Params{"role": "alumni"}, Values{"role": "graduate"})
		require.NoError(t, err)
		require.Len(t, updated, 1)
		require.Equal(t, "graduate", updated[0].Role)
	})

	t.Run("no match", func(t *testing.T) {
		f := newFixture(t)
		insertUser(t, f.db, &models.User{Username: "alice"})

		updated, err := f.repo.UpdateUserByParams(f.ctx, Params{"username": "carol"}, Values{"photo": "x.png"})
		require.NoError(t, err)
		require.Empty(t, updated)
		require.Empty(t, f.emitter.Events())
	})
}

func TestFindUserForTrustedClient(t *testing.T) {
	f := newUserFixture(t)
	college := &models.College{Name: "IIT"}
	_, err := f.db.NewInsert().Model(college).Exec(f.ctx)
	require.NoError(t, err)
	branch := &models.Branch{Name: "CSE"}
	_, err = f.db.NewInsert().Model(branch).Exec(f.ctx)
	require.NoError(t, err)
	address := &models.Address{City: "Delhi", Country: "India"}
	_, err = f.db.NewInsert().Model(address).Exec(f.ctx)
	require.NoError(t, err)

	alice := insertUser(t, f.db, &models.User{Username: "alice", Email: "a@x.io", Photo: "a.png", Role: "admin"})
	_, err = f.db.NewInsert().Model(&models.Demographic{
		UserID:    alice.ID,
		CollegeID: &college.ID,
		BranchID:  &branch.ID,
		AddressID: &address.ID,
	}).Exec(f.ctx)
	require.NoError(t, err)

	t.Run("trusted", func(t *testing.T) {
		user, err := f.repo.FindUserForTrustedClient(f.ctx, true, alice.ID)
		require.NoError(t, err)
		require.Equal(t, "a@x.io", user.Email)
		require.Equal(t, "admin", user.Role)
		require.NotNil(t, user.Demographic)
		require.Equal(t, "IIT", user.Demographic.College.Name)
		require.Equal(t, "CSE", user.Demographic.Branch.Name)
		require.Equal(t, "Delhi", user.Demographic.Address.City)
	})

	t.Run("untrusted", func(t *testing.T) {
		user, err := f.repo.FindUserForTrustedClient(f.ctx, false, alice.ID)
		require.NoError(t, err)
		require.Equal(t, alice.ID, user.ID)
		require.Equal(t, "alice", user.Username)
		require.Equal(t, "a.png", user.Photo)
		require.Empty(t, user.Email)
		require.Empty(t, user.Role)
		require.NotNil(t, user.Demographic)
		require.Equal(t, "IIT", user.Demographic.College.Name)
		require.Equal(t, "CSE", user.Demographic.Branch.Name)
		require.Equal(t, "Delhi", user.Demographic.Address.City)
	})

	t.Run("missing", func(t *testing.T) {
		user, err := f.repo.FindUserForTrustedClient(f.ctx, true, alice.ID+100)
		require.NoError(t, err)
		require.Nil(t, user)
	})
}

func seedFilterUsers(t *testing.T, f *userFixture) {
	verified := time.Now().UTC()
	insertUser(t, f.db, &models.User{Username: "alice", Firstname: "Alice", Lastname: "Smith", Email: "ali.ce@gmail.com", MobileNumber: "+919812345678", Photo: "a.png", Role: "admin", VerifiedEmail: &verified})
	insertUser(t, f.db, &models.User{Username: "alina", Firstname: "alina", Lastname: "Smythe", Email: "alina@gmail.com", MobileNumber: "9800000000"})
	insertUser(t, f.db, &models.User{Username: "bob", Firstname: "Bob", Lastname: "Jones", Email: "bob@yahoo.com", MobileNumber: "9812345678"})
}

func usernames(users []*models.User) []string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return names
}

func TestFindAllUsersWithFilter(t *testing.T) {
	f := newUserFixture(t)
	seedFilterUsers(t, f)

	str := func(s string) *string { return &s }
	yes, no := true, false

	cases := []struct {
		name   string
		filter UserFilter
		want   []string
	}{
		{"empty", UserFilter{}, []string{"alice", "alina", "bob"}},
		{"username exact", UserFilter{Username: str("ali")}, []string{}},
		{"firstname prefix", UserFilter{Firstname: str("ALI")}, []string{"alice", "alina"}},
		{"lastname prefix", UserFilter{Lastname: str("smy")}, []string{"alina"}},
		{"email ignores dots", UserFilter{Email: str("alice@gmail.com")}, []string{"alice"}},
		{"email ignores case", UserFilter{Email: str("BOB@YAHOO.COM")}, []string{"bob"}},
		{"email ignores supplied dots", UserFilter{Email: str("al.ina@gmail.com")}, []string{"alina"}},
		{"firstname is not infix", UserFilter{Firstname: str("lin")}, []string{}},
		{"contact suffix", UserFilter{Contact: str("12345678")}, []string{"alice", "bob"}},
		{"verified", UserFilter{Verified: &yes}, []string{"alice"}},
		{"unverified", UserFilter{Verified: &no}, []string{"alina", "bob"}},
		{"conjunction", UserFilter{Firstname: str("a"), Contact: str("678")}, []string{"alice"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			users, err := f.repo.FindAllUsersWithFilter(f.ctx, true, tc.filter)
			require.NoError(t, err)
			require.ElementsMatch(t, tc.want, usernames(users))
		})
	}
}

func TestFindAllUsersWithFilterVisibility(t *testing.T) {
	f := newUserFixture(t)
	seedFilterUsers(t, f)
	filter := UserFilter{Username: func(s string) *string { return &s }("alice")}

	users, err := f.repo.FindAllUsersWithFilter(f.ctx, false, filter)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "ali.ce@gmail.com", users[0].Email)
	require.Equal(t, "Smith", users[0].Lastname)
	require.Equal(t, "+919812345678", users[0].MobileNumber)
	require.Empty(t, users[0].Photo)
	require.Empty(t, users[0].Role)
	require.Nil(t, users[0].VerifiedEmail)

	users, err = f.repo.FindAllUsersWithFilter(f.ctx, true, filter)
	require.NoError(t, err)
	require.Equal(t, "a.png", users[0].Photo)
	require.NotNil(t, users[0].VerifiedEmail)
}

func TestFindAllUsersWithFilterInvalidContact(t *testing.T) {
	f := newUserFixture(t)
	contact := "98-12"

	_, err := f.repo.FindAllUsersWithFilter(f.ctx, true, UserFilter{Contact: &contact})
	var ferr *InvalidFormatError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, FilterContact, ferr.Field)
}

func TestPageUsersWithFilter(t *testing.T) {
	f := newUserFixture(t)
	seedFilterUsers(t, f)

	page, err := f.repo.PageUsersWithFilter(f.ctx, false, UserFilter{}, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Equal(t, []string{"alice", "alina"}, usernames(page.Items))
	require.Empty(t, page.Items[0].Photo)

	page, err = f.repo.PageUsersWithFilter(f.ctx, false, UserFilter{}, 2, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, usernames(page.Items))

	first := "nobody"
	page, err = f.repo.PageUsersWithFilter(f.ctx, true, UserFilter{Firstname: &first}, 1, 10)
	require.NoError(t, err)
	require.Zero(t, page.Total)
	require.Empty(t, page.Items)
}
