package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/portal-auth/internal/metrics"
	"github.com/pribylovaa/portal-auth/internal/password"
	"github.com/pribylovaa/portal-auth/internal/storage"
	"github.com/pribylovaa/portal-auth/pkg/log"
	"github.com/pribylovaa/portal-auth/pkg/redact"
)

// RequestPasswordReset выпускает токен сброса пароля и отправляет его письмом.
// Для неизвестного email и при сбое отправки возвращает nil, чтобы ответ
// не раскрывал, зарегистрирован ли адрес; сбой отправки пишется в лог.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	const op = "service.password_reset.RequestPasswordReset"

	defer func(started time.Time) { metrics.ObserveAuth("password_forgot", started, err) }(time.Now())

	lg := log.From(ctx)

	normEmail, err := normalizeEmail(email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Info("password_reset_unknown_email",
				slog.String("op", op),
				slog.String("email", redact.Email(normEmail)),
			)
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	tok, err := s.tokens.IssuePasswordReset(user.Email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, tok); err != nil {
		lg.Error("password_reset_send_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
		return nil
	}

	lg.Info("password_reset_requested",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return nil
}

// ResetPassword устанавливает новый пароль по токену сброса и отзывает
// все сессии пользователя.
//
// Со списком отзыва токен сброса одноразовый: его jti отзывается до смены
// пароля, повторное предъявление даёт ErrInvalidToken. Токены сброса,
// выпущенные до последнего отзыва сессий (logout, предыдущий сброс),
// тоже отклоняются. Без списка отзыва токен действует до истечения TTL.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) (err error) {
	const op = "service.password_reset.ResetPassword"

	defer func(started time.Time) { metrics.ObserveAuth("password_reset", started, err) }(time.Now())

	claim, err := s.tokens.VerifyPasswordReset(resetToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := checkPassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.UserByEmail(ctx, claim.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if s.revocations != nil {
		owned := *claim
		owned.UserID = user.ID
		if err := s.checkSessions(ctx, &owned); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		fresh, err := s.revocations.RevokeToken(ctx, claim.ID, claim.ExpiresAt)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if !fresh {
			log.From(ctx).Warn("password_reset_token_reused",
				slog.String("op", op),
				slog.String("user_id", user.ID.String()),
			)
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return fmt.Errorf("%s: %w: %w", op, ErrValidation, err)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if s.revocations != nil {
		if err := s.revokeSessions(ctx, user.ID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	log.From(ctx).Info("password_reset_completed",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return nil
}
