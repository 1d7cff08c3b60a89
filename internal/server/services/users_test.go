package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/dbx"
	"github.com/cravecart/cravecart/internal/server/auth"
	"github.com/cravecart/cravecart/internal/server/config"
	"github.com/cravecart/cravecart/internal/server/models"
	refreshtokensrepo "github.com/cravecart/cravecart/internal/server/repositories/refreshtokens"
	usersrepo "github.com/cravecart/cravecart/internal/server/repositories/users"
)

var errBoom = errors.New("boom")

type fakeUsersRepo struct {
	byEmail   map[string]*models.User
	byID      map[string]*models.User
	createErr error
	getErr    error
}

func newFakeUsers() *fakeUsersRepo {
	return &fakeUsersRepo{byEmail: map[string]*models.User{}, byID: map[string]*models.User{}}
}

func (f *fakeUsersRepo) add(u *models.User) {
	f.byEmail[u.Email] = u
	f.byID[u.ID] = u
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.byEmail[u.Email]; ok {
		return nil, common.ErrorAlreadyExists
	}
	cp := *u
	cp.ID = "u-" + u.Email
	f.add(&cp)
	return &cp, nil
}

func (f *fakeUsersRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

type fakeRefreshRepo struct {
	tokens    map[string]*models.RefreshToken
	consumeErr error
	createErr  error
	consumed   []string
}

func newFakeRefresh() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(_ context.Context, userID, token string, validity time.Duration) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (f *fakeRefreshRepo) Consume(_ context.Context, token string) (*models.RefreshToken, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	t, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	f.consumed = append(f.consumed, token)
	delete(f.tokens, token)
	return t, nil
}

func (f *fakeRefreshRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for k, t := range f.tokens {
		if t.Expires.Before(now) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeRefreshRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error        { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokensrepo.Repository { return m.r }

type fixture struct {
	svc   *UserService
	mock  sqlmock.Sqlmock
	users *fakeUsersRepo
	rt    *fakeRefreshRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm := &fakeRepoManager{u: newFakeUsers(), r: newFakeRefresh()}
	svc := NewUserService(db, rm, &config.Config{
		SecretKey:                    "k",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
		AdminEmails:                  []string{" Root@Example.com "},
	})
	svc.bcryptCost = bcrypt.MinCost
	return &fixture{svc: svc, mock: mock, users: rm.u, rt: rm.r}
}

func (f *fixture) seed(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.User{ID: "u-" + email, Email: email, Role: common.RoleUser, PasswordHash: hash}
	f.users.add(u)
	return u
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	s, err := f.svc.Register(context.Background(), "  Alice@Example.com", "secret1", " Alice ")
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, "alice@example.com", s.User.Email)
	assert.Equal(t, "Alice", s.User.Name)
	assert.Equal(t, common.RoleUser, s.User.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword(s.User.PasswordHash, []byte("secret1")))
	assert.Contains(t, f.rt.tokens, s.Tokens.RefreshToken)

	claims, err := f.svc.Authenticate(s.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, claims.ID)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestRegister_AdminEmail(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	s, err := f.svc.Register(context.Background(), "root@example.com", "secret1", "Root")
	require.NoError(t, err)
	assert.Equal(t, common.RoleAdmin, s.User.Role)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), "not-an-email", "secret1", "x")
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = f.svc.Register(context.Background(), "bob@example.com", "123", "x")
	assert.ErrorIs(t, err, common.ErrorValidation)
	require.NoError(t, f.mock.ExpectationsWereMet(), "no transaction for invalid input")
}

func TestRegister_Errors(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "alice@example.com", "secret1")
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()

		_, err := f.svc.Register(context.Background(), "alice@example.com", "secret1", "A")
		assert.ErrorIs(t, err, common.ErrorAlreadyExists)
	})

	t.Run("repository failure", func(t *testing.T) {
		f := newFixture(t)
		f.users.createErr = errBoom
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()

		_, err := f.svc.Register(context.Background(), "alice@example.com", "secret1", "A")
		assert.ErrorIs(t, err, errBoom)
		assert.Contains(t, err.Error(), "error creating user")
	})

	t.Run("refresh token store failure", func(t *testing.T) {
		f := newFixture(t)
		f.rt.createErr = errBoom
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()

		_, err := f.svc.Register(context.Background(), "alice@example.com", "secret1", "A")
		assert.ErrorIs(t, err, common.ErrorInternal)
	})
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	u := f.seed(t, "alice@example.com", "secret1")

	s, err := f.svc.Login(context.Background(), "ALICE@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, s.User.ID)
	assert.NotEmpty(t, s.Tokens.AccessToken)
	assert.Len(t, s.Tokens.RefreshToken, 64)

	_, err = f.svc.Login(context.Background(), "alice@example.com", "wrong-pass")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = f.svc.Login(context.Background(), "ghost@example.com", "secret1")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	f.users.getErr = errBoom
	_, err = f.svc.Login(context.Background(), "alice@example.com", "secret1")
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestRefreshToken_Rotates(t *testing.T) {
	f := newFixture(t)
	u := f.seed(t, "alice@example.com", "secret1")
	require.NoError(t, f.rt.Create(context.Background(), u.ID, "old", time.Hour))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	pair, err := f.svc.RefreshToken(context.Background(), "old")
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.NotContains(t, f.rt.tokens, "old")
	assert.Contains(t, f.rt.tokens, pair.RefreshToken)
	assert.NotEqual(t, "old", pair.RefreshToken)

	claims, err := auth.ParseToken(pair.AccessToken, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.ID)
	assert.Equal(t, u.Email, claims.Email)
}

func TestRefreshToken_SecondUseIsRejected(t *testing.T) {
	f := newFixture(t)
	u := f.seed(t, "alice@example.com", "secret1")
	require.NoError(t, f.rt.Create(context.Background(), u.ID, "old", time.Hour))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.RefreshToken(context.Background(), "old")
	require.NoError(t, err)
	_, err = f.svc.RefreshToken(context.Background(), "old")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// postgresTokens pairs the real refresh token repository with fake users so
// the rotation runs the actual SQL against sqlmock.
type postgresTokens struct {
	u *fakeUsersRepo
}

func (m *postgresTokens) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *postgresTokens) Users(dbx.DBTX) usersrepo.Repository          { return m.u }
func (m *postgresTokens) RefreshTokens(tx dbx.DBTX) refreshtokensrepo.Repository {
	return refreshtokensrepo.NewPostgresRepository(tx)
}

func TestRefreshToken_ConsumedConcurrentlyIssuesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users := newFakeUsers()
	users.add(&models.User{ID: "u1", Email: "alice@example.com", Role: common.RoleUser})
	svc := NewUserService(db, &postgresTokens{u: users}, &config.Config{
		SecretKey:                    "k",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: time.Hour,
	})

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM refresh_tokens").
		WithArgs("old").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "created_at"}))
	mock.ExpectRollback()

	pair, err := svc.RefreshToken(context.Background(), "old")
	assert.Nil(t, pair)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshToken_Failures(t *testing.T) {
	t.Run("unknown", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()

		_, err := f.svc.RefreshToken(context.Background(), "nope")
		assert.ErrorIs(t, err, common.ErrInvalidToken)
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("expired is removed", func(t *testing.T) {
		f := newFixture(t)
		f.rt.tokens["r"] = &models.RefreshToken{UserID: "u1", Token: "r", Expires: time.Now().Add(-time.Minute)}
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		_, err := f.svc.RefreshToken(context.Background(), "r")
		assert.ErrorIs(t, err, common.ErrRefreshTokenExpired)
		assert.Equal(t, []string{"r"}, f.rt.consumed)
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("consume error rolls back", func(t *testing.T) {
		f := newFixture(t)
		f.rt.consumeErr = errBoom
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()

		_, err := f.svc.RefreshToken(context.Background(), "r")
		assert.ErrorIs(t, err, errBoom)
		assert.Contains(t, err.Error(), "error consuming refresh token")
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("user gone", func(t *testing.T) {
		f := newFixture(t)
		f.rt.tokens["r"] = &models.RefreshToken{UserID: "ghost", Token: "r", Expires: time.Now().Add(time.Minute)}
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()

		_, err := f.svc.RefreshToken(context.Background(), "r")
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})
}

func TestMeAndEmail(t *testing.T) {
	f := newFixture(t)
	u := f.seed(t, "alice@example.com", "secret1")

	got, err := f.svc.Me(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	email, err := f.svc.Email(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	_, err = f.svc.Email(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	f.rt.tokens["old"] = &models.RefreshToken{Expires: time.Now().Add(-time.Hour)}
	f.rt.tokens["new"] = &models.RefreshToken{Expires: time.Now().Add(time.Hour)}

	n, err := f.svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Contains(t, f.rt.tokens, "new")
}
