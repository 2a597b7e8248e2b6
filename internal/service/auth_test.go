package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/portal-auth/internal/config"
	"github.com/pribylovaa/portal-auth/internal/models"
	"github.com/pribylovaa/portal-auth/internal/password"
	"github.com/pribylovaa/portal-auth/internal/storage"
	"github.com/pribylovaa/portal-auth/internal/token"
	"github.com/pribylovaa/portal-auth/mocks"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct{ now atomic.Int64 }

func newClock(at time.Time) *fakeClock {
	c := &fakeClock{}
	c.now.Store(at.UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, c.now.Load()).UTC() }

func (c *fakeClock) Add(d time.Duration) { c.now.Add(int64(d)) }

func (c *fakeClock) Set(at time.Time) { c.now.Store(at.UnixNano()) }

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		AccessSecret:    "unit-access-secret",
		RefreshSecret:   "unit-refresh-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ResetTokenTTL:   time.Hour,
		Issuer:          "portal-auth",
		Audience:        []string{"portal"},
		BcryptCost:      bcrypt.MinCost,
	}
}

type fixture struct {
	svc    *Service
	users  *mocks.MockUserStorage
	clk    *fakeClock
	tokens *token.Manager
	hasher *password.Hasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStorage(ctrl)
	clk := newClock(t0)

	tokens, err := token.NewManager(testCfg(), token.WithClock(clk.Now))
	require.NoError(t, err)

	hasher, err := password.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	svc := New(users, tokens, hasher, testCfg())
	svc.now = clk.Now

	return &fixture{svc: svc, users: users, clk: clk, tokens: tokens, hasher: hasher}
}

func (f *fixture) mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := f.hasher.Hash(pw)
	require.NoError(t, err)
	return h
}

// memRevocations — потокобезопасный список отзыва в памяти для сценарных тестов.
type memRevocations struct {
	mu       sync.Mutex
	tokens   map[string]time.Time
	sessions map[uuid.UUID]time.Time
}

func newMemRevocations() *memRevocations {
	return &memRevocations{tokens: map[string]time.Time{}, sessions: map[uuid.UUID]time.Time{}}
}

func (m *memRevocations) RevokeToken(_ context.Context, id string, exp time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[id]; ok {
		return false, nil
	}
	m.tokens[id] = exp
	return true, nil
}

func (m *memRevocations) RevokeUserSessions(_ context.Context, uid uuid.UUID, at, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[uid]; !ok || at.After(cur) {
		m.sessions[uid] = at
	}
	return nil
}

func (m *memRevocations) SessionsRevokedAt(_ context.Context, uid uuid.UUID) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.sessions[uid]
	return at, ok, nil
}

func (m *memRevocations) DeleteExpired(context.Context, time.Time) error { return nil }

var _ storage.RevocationStorage = (*memRevocations)(nil)

// ---------- Register ----------

func TestRegister_OK(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var saved *models.User
	f.users.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(nil, storage.ErrNotFound)
	f.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
		saved = u
		return nil
	})

	res, err := f.svc.Register(ctx, "  User@Example.com ", "Str0ng!pwd", " Alice ")
	require.NoError(t, err)
	require.NotNil(t, saved)

	require.Equal(t, saved, res.User)
	require.Equal(t, "user@example.com", res.User.Email)
	require.Equal(t, "Alice", res.User.Name)
	require.NotEqual(t, uuid.Nil, res.User.ID)
	require.Equal(t, t0, res.User.CreatedAt)
	require.True(t, f.hasher.Verify("Str0ng!pwd", res.User.PasswordHash))

	claim, err := f.tokens.VerifyAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, res.User.ID, claim.UserID)
	require.Equal(t, t0.Add(15*time.Minute), res.Tokens.AccessExpiresAt)
}

func TestRegister_WeakPassword_ListsViolations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), "a@x.com", "Weak1", "A")
	require.ErrorIs(t, err, ErrWeakPassword)
	require.ErrorIs(t, err, ErrValidation)

	var wp *WeakPasswordError
	require.True(t, errors.As(err, &wp))
	require.Contains(t, wp.Violations, password.MsgNoSymbol)
	require.Contains(t, wp.Violations, password.MsgTooShort)
	require.Len(t, wp.Violations, 2)
}

func TestRegister_InvalidInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for _, email := range []string{"", "not-an-email", "Bob <bob@x.com>"} {
		_, err := f.svc.Register(ctx, email, "Str0ng!pwd", "A")
		require.ErrorIs(t, err, ErrInvalidEmail, email)
	}

	_, err := f.svc.Register(ctx, "a@x.com", "Str0ng!pwd", "   ")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Register(ctx, "a@x.com", "Str0ng!pwd", strings.Repeat("n", maxNameLength+1))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegister_EmailTaken_OnLookup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").
		Return(&models.User{ID: uuid.New(), Email: "a@x.com"}, nil)

	_, err := f.svc.Register(context.Background(), "a@x.com", "Str0ng!pwd", "A")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_EmailTaken_OnInsertRace(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)
	f.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

	_, err := f.svc.Register(context.Background(), "a@x.com", "Str0ng!pwd", "A")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_StorageErrorsPropagated(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")

	f := newFixture(t)
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, boom)
	_, err := f.svc.Register(context.Background(), "a@x.com", "Str0ng!pwd", "A")
	require.ErrorIs(t, err, boom)

	f = newFixture(t)
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)
	f.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(boom)
	_, err = f.svc.Register(context.Background(), "a@x.com", "Str0ng!pwd", "A")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)

	_, err := f.svc.Register(context.Background(), "a@x.com", "Str0ng!"+strings.Repeat("p", 80), "A")
	require.ErrorIs(t, err, ErrPasswordTooLong)
	require.ErrorIs(t, err, ErrValidation)
}

// ---------- Login ----------

func TestLogin_OK(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := &models.User{ID: uuid.New(), Email: "a@x.com", PasswordHash: f.mustHash(t, "Str0ng!pwd")}
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(u, nil)

	res, err := f.svc.Login(context.Background(), "A@X.com", "Str0ng!pwd")
	require.NoError(t, err)
	require.Equal(t, u, res.User)

	claim, err := f.tokens.VerifyRefresh(res.Tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claim.UserID)
}

func TestLogin_GenericErrorForEveryFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := &models.User{ID: uuid.New(), Email: "a@x.com", PasswordHash: f.mustHash(t, "Str0ng!pwd")}

	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(u, nil)
	_, wrongPw := f.svc.Login(context.Background(), "a@x.com", "wrong")

	f.users.EXPECT().UserByEmail(gomock.Any(), "ghost@x.com").Return(nil, storage.ErrNotFound)
	_, unknown := f.svc.Login(context.Background(), "ghost@x.com", "Str0ng!pwd")

	_, badEmail := f.svc.Login(context.Background(), "not-an-email", "Str0ng!pwd")
	_, emptyPw := f.svc.Login(context.Background(), "a@x.com", "")

	for _, err := range []error{wrongPw, unknown, badEmail, emptyPw} {
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Сообщения неразличимы после снятия контекста op.
	require.Equal(t, ErrInvalidCredentials.Error(), errors.Unwrap(wrongPw).Error())
	require.Equal(t, ErrInvalidCredentials.Error(), errors.Unwrap(unknown).Error())
}

func TestLogin_MalformedStoredHash(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := &models.User{ID: uuid.New(), Email: "a@x.com", PasswordHash: "garbage"}
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(u, nil)

	_, err := f.svc.Login(context.Background(), "a@x.com", "Str0ng!pwd")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_StorageErrorPropagated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	boom := errors.New("db down")
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, boom)

	_, err := f.svc.Login(context.Background(), "a@x.com", "Str0ng!pwd")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
}

// ---------- Refresh ----------

func TestRefresh_WithoutRevocations_RotatesPair(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := &models.User{ID: uuid.New(), Email: "a@x.com"}

	old, err := f.tokens.Issue(u.ID, u.Email)
	require.NoError(t, err)

	f.clk.Add(time.Minute)
	f.users.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)

	pair, err := f.svc.Refresh(context.Background(), old.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, old.RefreshToken, pair.RefreshToken)
	require.Equal(t, t0.Add(time.Minute+15*time.Minute), pair.AccessExpiresAt)
}

func TestRefresh_RejectsAccessTokenAndGarbage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair, err := f.tokens.Issue(uuid.New(), "a@x.com")
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.Refresh(context.Background(), "garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_Expired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair, err := f.tokens.Issue(uuid.New(), "a@x.com")
	require.NoError(t, err)

	f.clk.Add(7 * 24 * time.Hour)
	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_UserDeleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	uid := uuid.New()
	pair, err := f.tokens.Issue(uid, "a@x.com")
	require.NoError(t, err)

	f.users.EXPECT().UserByID(gomock.Any(), uid).Return(nil, storage.ErrNotFound)

	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_ReuseDetected_RevokesSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rv := newMemRevocations()
	f.svc.SetRevocations(rv)

	u := &models.User{ID: uuid.New(), Email: "a@x.com"}
	old, err := f.tokens.Issue(u.ID, u.Email)
	require.NoError(t, err)

	f.clk.Add(time.Second)
	f.users.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)

	rotated, err := f.svc.Refresh(context.Background(), old.RefreshToken)
	require.NoError(t, err)

	// Повторное предъявление старого токена.
	f.clk.Add(time.Second)
	_, err = f.svc.Refresh(context.Background(), old.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Вся семья токенов отозвана: новый refresh тоже не принимается.
	f.clk.Add(time.Second)
	_, err = f.svc.Refresh(context.Background(), rotated.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_RevocationStoreError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctrl := gomock.NewController(t)
	rv := mocks.NewMockRevocationStorage(ctrl)
	f.svc.SetRevocations(rv)

	uid := uuid.New()
	pair, err := f.tokens.Issue(uid, "a@x.com")
	require.NoError(t, err)

	boom := errors.New("redis down")
	rv.EXPECT().SessionsRevokedAt(gomock.Any(), uid).Return(time.Time{}, false, nil)
	rv.EXPECT().RevokeToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, boom)

	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrInvalidToken)
}

// ---------- Logout / Authenticate ----------

func TestLogout_Advisory_WithoutRevocations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := &models.User{ID: uuid.New(), Email: "a@x.com"}
	pair, err := f.tokens.Issue(u.ID, u.Email)
	require.NoError(t, err)

	f.clk.Add(time.Second)
	require.NoError(t, f.svc.Logout(context.Background(), u.ID))
	require.False(t, f.svc.RevocationsEnabled())

	// Токены действуют до естественного истечения.
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
}

func TestLogout_WithRevocations_InvalidatesImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rv := newMemRevocations()
	f.svc.SetRevocations(rv)

	u := &models.User{ID: uuid.New(), Email: "a@x.com"}
	pair, err := f.tokens.Issue(u.ID, u.Email)
	require.NoError(t, err)

	p, err := f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, p.UserID)
	require.Equal(t, pair.AccessExpiresAt, p.ExpiresAt)

	f.clk.Add(time.Second)
	require.NoError(t, f.svc.Logout(context.Background(), u.ID))

	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Новый вход после logout работает.
	f.clk.Add(time.Second)
	fresh, err := f.tokens.Issue(u.ID, u.Email)
	require.NoError(t, err)
	_, err = f.svc.Authenticate(context.Background(), fresh.AccessToken)
	require.NoError(t, err)
}

func TestLogout_SameMillisecondCutoff(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rv := newMemRevocations()
	f.svc.SetRevocations(rv)
	ctx := context.Background()

	uid := uuid.New()
	f.clk.Set(t0.Add(400 * time.Microsecond))
	pair, err := f.tokens.Issue(uid, "a@x.com")
	require.NoError(t, err)

	// Хранилище с миллисекундной точностью (Redis) запишет момент отзыва усечённым.
	require.NoError(t, rv.RevokeUserSessions(ctx, uid, t0, t0.Add(time.Hour)))
	_, err = f.svc.Authenticate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	// То же с микросекундной точностью (PostgreSQL).
	other := uuid.New()
	otherPair, err := f.tokens.Issue(other, "b@x.com")
	require.NoError(t, err)
	require.NoError(t, rv.RevokeUserSessions(ctx, other, t0.Add(700*time.Microsecond), t0.Add(time.Hour)))
	_, err = f.svc.Authenticate(ctx, otherPair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Токен следующей миллисекунды действителен.
	f.clk.Set(t0.Add(time.Millisecond))
	next, err := f.tokens.Issue(uid, "a@x.com")
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, next.AccessToken)
	require.NoError(t, err)
}

func TestLogout_RecordsUntilRefreshExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctrl := gomock.NewController(t)
	rv := mocks.NewMockRevocationStorage(ctrl)
	f.svc.SetRevocations(rv)

	uid := uuid.New()
	rv.EXPECT().RevokeUserSessions(gomock.Any(), uid, t0, t0.Add(7*24*time.Hour)).Return(nil)

	require.NoError(t, f.svc.Logout(context.Background(), uid))
}

func TestAuthenticate_RejectsRefreshAndResetTokens(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair, err := f.tokens.Issue(uuid.New(), "a@x.com")
	require.NoError(t, err)
	reset, err := f.tokens.IssuePasswordReset("a@x.com")
	require.NoError(t, err)

	for _, tok := range []string{pair.RefreshToken, reset, ""} {
		_, err := f.svc.Authenticate(context.Background(), tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestMe(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := &models.User{ID: uuid.New(), Email: "a@x.com", Name: "A"}

	f.users.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)
	got, err := f.svc.Me(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, u, got)

	missing := uuid.New()
	f.users.EXPECT().UserByID(gomock.Any(), missing).Return(nil, storage.ErrNotFound)
	_, err = f.svc.Me(context.Background(), missing)
	require.ErrorIs(t, err, ErrInvalidToken)
}

// ---------- Сценарий целиком ----------

func TestScenario_RegisterLoginWrongPassword(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "a@x.com", "Weak1", "A")
	var wp *WeakPasswordError
	require.True(t, errors.As(err, &wp))
	require.Contains(t, wp.Violations, password.MsgNoSymbol)

	var saved *models.User
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)
	f.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
		saved = u
		return nil
	})

	_, err = f.svc.Register(ctx, "a@x.com", "Str0ng!pwd", "A")
	require.NoError(t, err)

	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").DoAndReturn(func(context.Context, string) (*models.User, error) {
		return saved, nil
	}).Times(2)

	res, err := f.svc.Login(ctx, "a@x.com", "Str0ng!pwd")
	require.NoError(t, err)
	_, err = f.tokens.VerifyAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	_, err = f.tokens.VerifyRefresh(res.Tokens.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, "invalid credentials", errors.Unwrap(err).Error())
}
