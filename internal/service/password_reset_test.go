package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/portal-auth/internal/models"
	"github.com/pribylovaa/portal-auth/internal/storage"
	"github.com/pribylovaa/portal-auth/mocks"
)

func TestRequestPasswordReset_SendsVerifiableToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctrl := gomock.NewController(t)
	ml := mocks.NewMockMailer(ctrl)
	f.svc.SetMailer(ml)

	u := &models.User{ID: uuid.New(), Email: "a@x.com"}
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(u, nil)

	var sent string
	ml.EXPECT().SendPasswordReset(gomock.Any(), "a@x.com", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, tok string) error {
			sent = tok
			return nil
		})

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "A@x.com"))

	claim, err := f.tokens.VerifyPasswordReset(sent)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", claim.Email)
}

func TestRequestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctrl := gomock.NewController(t)
	ml := mocks.NewMockMailer(ctrl)
	f.svc.SetMailer(ml)

	f.users.EXPECT().UserByEmail(gomock.Any(), "ghost@x.com").Return(nil, storage.ErrNotFound)

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "ghost@x.com"))
}

func TestRequestPasswordReset_SendFailureIsSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctrl := gomock.NewController(t)
	ml := mocks.NewMockMailer(ctrl)
	f.svc.SetMailer(ml)

	u := &models.User{ID: uuid.New(), Email: "a@x.com"}
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(u, nil)
	ml.EXPECT().SendPasswordReset(gomock.Any(), "a@x.com", gomock.Any()).Return(errors.New("smtp down"))

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "a@x.com"))
}

func TestRequestPasswordReset_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.ErrorIs(t, f.svc.RequestPasswordReset(context.Background(), "nope"), ErrInvalidEmail)

	boom := errors.New("db down")
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, boom)
	require.ErrorIs(t, f.svc.RequestPasswordReset(context.Background(), "a@x.com"), boom)
}

func TestResetPassword_OK_RevokesSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rv := newMemRevocations()
	f.svc.SetRevocations(rv)

	u := &models.User{ID: uuid.New(), Email: "a@x.com", PasswordHash: f.mustHash(t, "Old!pass1")}
	session, err := f.tokens.Issue(u.ID, u.Email)
	require.NoError(t, err)

	reset, err := f.tokens.IssuePasswordReset(u.Email)
	require.NoError(t, err)

	f.clk.Add(time.Minute)

	var newHash string
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(u, nil)
	f.users.EXPECT().UpdatePassword(gomock.Any(), u.ID, gomock.Any(), t0.Add(time.Minute)).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, hash string, _ time.Time) error {
			newHash = hash
			return nil
		})

	require.NoError(t, f.svc.ResetPassword(context.Background(), reset, "N3w!password"))
	require.True(t, f.hasher.Verify("N3w!password", newHash))

	_, err = f.svc.Authenticate(context.Background(), session.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestResetPassword_TokenIsSingleUse(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rv := newMemRevocations()
	f.svc.SetRevocations(rv)

	u := &models.User{ID: uuid.New(), Email: "a@x.com"}
	reset, err := f.tokens.IssuePasswordReset(u.Email)
	require.NoError(t, err)

	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(u, nil).Times(2)
	f.users.EXPECT().UpdatePassword(gomock.Any(), u.ID, gomock.Any(), gomock.Any()).Return(nil).Times(1)

	f.clk.Add(time.Second)
	require.NoError(t, f.svc.ResetPassword(context.Background(), reset, "N3w!password"))

	f.clk.Add(10 * time.Second)
	err = f.svc.ResetPassword(context.Background(), reset, "An0ther!password")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestResetPassword_OlderLinksInvalidated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rv := newMemRevocations()
	f.svc.SetRevocations(rv)

	u := &models.User{ID: uuid.New(), Email: "a@x.com"}
	first, err := f.tokens.IssuePasswordReset(u.Email)
	require.NoError(t, err)

	f.clk.Add(time.Second)
	second, err := f.tokens.IssuePasswordReset(u.Email)
	require.NoError(t, err)

	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(u, nil).AnyTimes()
	f.users.EXPECT().UpdatePassword(gomock.Any(), u.ID, gomock.Any(), gomock.Any()).Return(nil).Times(1)

	f.clk.Add(time.Second)
	require.NoError(t, f.svc.ResetPassword(context.Background(), second, "N3w!password"))

	// Ссылка, выпущенная до сброса, больше не действует.
	f.clk.Add(time.Second)
	err = f.svc.ResetPassword(context.Background(), first, "An0ther!password")
	require.ErrorIs(t, err, ErrInvalidToken)

	// Logout тоже гасит ранее выданные ссылки.
	f.clk.Add(time.Second)
	third, err := f.tokens.IssuePasswordReset(u.Email)
	require.NoError(t, err)
	f.clk.Add(time.Second)
	require.NoError(t, f.svc.Logout(context.Background(), u.ID))
	f.clk.Add(time.Second)
	err = f.svc.ResetPassword(context.Background(), third, "An0ther!password")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestResetPassword_RevocationStoreError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctrl := gomock.NewController(t)
	rv := mocks.NewMockRevocationStorage(ctrl)
	f.svc.SetRevocations(rv)

	u := &models.User{ID: uuid.New(), Email: "a@x.com"}
	reset, err := f.tokens.IssuePasswordReset(u.Email)
	require.NoError(t, err)

	boom := errors.New("redis down")
	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(u, nil)
	rv.EXPECT().SessionsRevokedAt(gomock.Any(), u.ID).Return(time.Time{}, false, nil)
	rv.EXPECT().RevokeToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, boom)

	err = f.svc.ResetPassword(context.Background(), reset, "N3w!password")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrInvalidToken)
}

func TestResetPassword_RejectsWrongTokens(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair, err := f.tokens.Issue(uuid.New(), "a@x.com")
	require.NoError(t, err)

	for _, tok := range []string{pair.AccessToken, pair.RefreshToken, "garbage", ""} {
		err := f.svc.ResetPassword(context.Background(), tok, "N3w!password")
		require.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reset, err := f.tokens.IssuePasswordReset("a@x.com")
	require.NoError(t, err)

	f.clk.Add(time.Hour)
	err = f.svc.ResetPassword(context.Background(), reset, "N3w!password")
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestResetPassword_WeakPassword(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reset, err := f.tokens.IssuePasswordReset("a@x.com")
	require.NoError(t, err)

	err = f.svc.ResetPassword(context.Background(), reset, "weak")
	require.ErrorIs(t, err, ErrWeakPassword)

	var wp *WeakPasswordError
	require.True(t, errors.As(err, &wp))
	require.NotEmpty(t, wp.Violations)
}

func TestResetPassword_UserGone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reset, err := f.tokens.IssuePasswordReset("a@x.com")
	require.NoError(t, err)

	f.users.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)

	err = f.svc.ResetPassword(context.Background(), reset, "N3w!password")
	require.ErrorIs(t, err, ErrInvalidToken)
}
