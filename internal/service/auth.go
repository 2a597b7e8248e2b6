package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/portal-auth/internal/metrics"
	"github.com/pribylovaa/portal-auth/internal/models"
	"github.com/pribylovaa/portal-auth/internal/password"
	"github.com/pribylovaa/portal-auth/internal/storage"
	"github.com/pribylovaa/portal-auth/pkg/log"
	"github.com/pribylovaa/portal-auth/pkg/redact"
)

// Register регистрирует нового пользователя и выпускает пару токенов.
func (s *Service) Register(ctx context.Context, email, pw, name string) (res *models.AuthResult, err error) {
	const op = "service.auth.Register"

	defer func(started time.Time) { metrics.ObserveAuth("register", started, err) }(time.Now())

	lg := log.From(ctx)

	normEmail, err := normalizeEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	normName, err := normalizeName(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := checkPassword(pw); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.users.UserByEmail(ctx, normEmail)
	if err == nil {
		lg.Info("register_email_taken",
			slog.String("op", op),
			slog.String("email", redact.Email(normEmail)),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrValidation, err)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        normEmail,
		Name:         normName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("user_registered",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return &models.AuthResult{User: user, Tokens: pair}, nil
}

// Login выполняет вход по email и паролю. Любая причина отказа
// (нет пользователя, неверный пароль, некорректный email) даёт
// ErrInvalidCredentials; время ответа не зависит от существования пользователя.
func (s *Service) Login(ctx context.Context, email, pw string) (res *models.AuthResult, err error) {
	const op = "service.auth.Login"

	defer func(started time.Time) { metrics.ObserveAuth("login", started, err) }(time.Now())

	lg := log.From(ctx)

	normEmail, err := normalizeEmail(email)
	if err != nil || pw == "" {
		s.hasher.VerifyDummy(pw)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.users.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.VerifyDummy(pw)
			lg.Info("login_failed",
				slog.String("op", op),
				slog.String("email", redact.Email(normEmail)),
				slog.String("reason", "unknown_user"),
			)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !s.hasher.Verify(pw, user.PasswordHash) {
		lg.Info("login_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("reason", "password_mismatch"),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.AuthResult{User: user, Tokens: pair}, nil
}

// Refresh обменивает refresh-токен на новую пару (ротация).
// Со списком отзыва старый токен отзывается атомарно; повторное
// предъявление уже отозванного токена отзывает все сессии пользователя.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (pair *models.TokenPair, err error) {
	const op = "service.auth.Refresh"

	defer func(started time.Time) { metrics.ObserveAuth("refresh", started, err) }(time.Now())

	lg := log.From(ctx)

	claim, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		lg.Info("refresh_rejected",
			slog.String("op", op),
			slog.String("token", redact.Token()),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.checkSessions(ctx, claim); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.revocations != nil {
		fresh, err := s.revocations.RevokeToken(ctx, claim.ID, claim.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if !fresh {
			lg.Warn("refresh_reused",
				slog.String("op", op),
				slog.String("user_id", claim.UserID.String()),
			)
			if err := s.revokeSessions(ctx, claim.UserID); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}

			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
	}

	user, err := s.users.UserByID(ctx, claim.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err = s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

// Logout завершает все сессии пользователя. Со списком отзыва любой токен,
// выпущенный до этого момента, больше не принимается. Без него вызов
// ничего не делает: токены остаются действительными до истечения срока.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) (err error) {
	const op = "service.auth.Logout"

	defer func(started time.Time) { metrics.ObserveAuth("logout", started, err) }(time.Now())

	if s.revocations == nil {
		log.From(ctx).Debug("logout_advisory",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
		)
		return nil
	}

	if err := s.revokeSessions(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_logged_out",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
	)

	return nil
}

// Authenticate проверяет access-токен и возвращает принципала запроса.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.Principal, error) {
	const op = "service.auth.Authenticate"

	claim, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.checkSessions(ctx, claim); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.Principal{
		UserID:    claim.UserID,
		Email:     claim.Email,
		TokenID:   claim.ID,
		ExpiresAt: claim.ExpiresAt,
	}, nil
}

// Me возвращает профиль аутентифицированного пользователя.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "service.auth.Me"

	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// checkSessions отклоняет токен, выпущенный не позже последнего отзыва
// сессий его владельца. Сравнение идёт с точностью до миллисекунды
// (точность iat_ms), одинаково для всех хранилищ отзыва.
func (s *Service) checkSessions(ctx context.Context, claim *models.Claim) error {
	const op = "service.auth.checkSessions"

	if s.revocations == nil {
		return nil
	}

	at, found, err := s.revocations.SessionsRevokedAt(ctx, claim.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if found && !claim.IssuedAt.After(at.Truncate(time.Millisecond)) {
		log.From(ctx).Info("token_session_revoked",
			slog.String("op", op),
			slog.String("user_id", claim.UserID.String()),
		)
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return nil
}

// revokeSessions отзывает все сессии пользователя на текущий момент.
// Запись хранится, пока может жить самый долгий из выпущенных токенов.
func (s *Service) revokeSessions(ctx context.Context, userID uuid.UUID) error {
	now := s.now().UTC()
	return s.revocations.RevokeUserSessions(ctx, userID, now, now.Add(s.cfg.RefreshTokenTTL))
}
