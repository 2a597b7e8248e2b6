package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RevokeToken отзывает токен по jti. Вставка идемпотентна: повторный
// отзыв того же токена возвращает false.
func (s *Storage) RevokeToken(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	const op = "storage.postgres.RevokeToken"

	query := `
		INSERT INTO revoked_tokens(token_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_id) DO NOTHING
	`

	tag, err := s.db.Exec(ctx, query, id, expiresAt)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() == 1, nil
}

// RevokeUserSessions запоминает момент отзыва всех сессий пользователя.
// Момент и срок хранения только сдвигаются вперёд.
func (s *Storage) RevokeUserSessions(ctx context.Context, userID uuid.UUID, at, until time.Time) error {
	const op = "storage.postgres.RevokeUserSessions"

	query := `
		INSERT INTO user_session_revocations(user_id, revoked_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET revoked_at = GREATEST(user_session_revocations.revoked_at, EXCLUDED.revoked_at),
		    expires_at = GREATEST(user_session_revocations.expires_at, EXCLUDED.expires_at)
	`

	if _, err := s.db.Exec(ctx, query, userID, at, until); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SessionsRevokedAt возвращает момент последнего отзыва сессий пользователя.
func (s *Storage) SessionsRevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	const op = "storage.postgres.SessionsRevokedAt"

	query := `SELECT revoked_at FROM user_session_revocations WHERE user_id = $1`

	var at time.Time
	err := s.db.QueryRow(ctx, query, userID).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}

		return time.Time{}, false, fmt.Errorf("%s: %w", op, err)
	}

	return at.UTC(), true, nil
}

// DeleteExpired удаляет записи списка отзыва, срок которых истёк.
func (s *Storage) DeleteExpired(ctx context.Context, now time.Time) error {
	const op = "storage.postgres.DeleteExpired"

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM revoked_tokens WHERE expires_at <= $1`, now)
	batch.Queue(`DELETE FROM user_session_revocations WHERE expires_at <= $1`, now)

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
