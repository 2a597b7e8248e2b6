// token выпускает и проверяет подписанные JWT (HS256):
// access- и refresh-токены с разными секретами и токены сброса пароля.
//
// Основные аспекты:
//   - VerifyAccess и VerifyRefresh привязаны каждый ровно к одному секрету
//     и одному типу (claim "typ"); токен другого вида всегда отклоняется;
//   - проверка без допуска по времени: токен действителен строго до exp;
//   - проверка не выполняет ввода-вывода, только криптографию;
//   - часы и генератор идентификаторов внедряются опциями, поэтому выпуск
//     детерминирован при фиксированных времени, секретах и идентификаторах.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/portal-auth/internal/config"
	"github.com/pribylovaa/portal-auth/internal/models"
)

// Типы токенов (claim "typ").
const (
	TypeAccess        = "access"
	TypeRefresh       = "refresh"
	TypePasswordReset = "password_reset"
)

var (
	// ErrInvalidToken — подпись, структура, тип, издатель/аудитория или срок
	// действия токена не прошли проверку. Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия истёк. Оборачивает ErrInvalidToken,
	// поэтому errors.Is(err, ErrInvalidToken) для него тоже true.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrInvalidToken)

	// ErrInvalidConfig — секреты пусты или совпадают, либо TTL не положителен.
	ErrInvalidConfig = errors.New("invalid token config")
)

type claims struct {
	UserID string `json:"uid,omitempty"`
	Email  string `json:"email"`
	Type   string `json:"typ"`
	// IssuedAtMs — момент выпуска в миллисекундах. Стандартный iat хранит
	// только секунды, а сравнению с моментом logout нужна большая точность.
	IssuedAtMs int64 `json:"iat_ms"`
	jwt.RegisteredClaims
}

// Manager выпускает и проверяет токены. Безопасен для конкурентного использования.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	resetTTL      time.Duration
	issuer        string
	audience      []string

	now   func() time.Time
	newID func() string
}

// Option настраивает Manager.
type Option func(*Manager)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов токенов (jti).
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// NewManager создаёт Manager из конфигурации.
func NewManager(cfg config.AuthConfig, opts ...Option) (*Manager, error) {
	const op = "token.NewManager"

	switch {
	case cfg.AccessSecret == "" || cfg.RefreshSecret == "":
		return nil, fmt.Errorf("%s: %w: empty secret", op, ErrInvalidConfig)
	case cfg.AccessSecret == cfg.RefreshSecret:
		return nil, fmt.Errorf("%s: %w: access and refresh secrets must differ", op, ErrInvalidConfig)
	case cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0:
		return nil, fmt.Errorf("%s: %w: non-positive ttl", op, ErrInvalidConfig)
	}

	resetTTL := cfg.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}

	m := &Manager{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		resetTTL:      resetTTL,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		now:           time.Now,
		newID:         uuid.NewString,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Issue выпускает пару токенов для пользователя: access подписан
// access-секретом, refresh — refresh-секретом; TTL у каждого свой.
func (m *Manager) Issue(userID uuid.UUID, email string) (*models.TokenPair, error) {
	const op = "token.Issue"

	now := m.now().UTC()

	access, accessExp, err := m.sign(m.accessSecret, TypeAccess, userID.String(), email, now, m.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refresh, refreshExp, err := m.sign(m.refreshSecret, TypeRefresh, userID.String(), email, now, m.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess проверяет access-токен и возвращает его Claim.
func (m *Manager) VerifyAccess(tok string) (*models.Claim, error) {
	const op = "token.VerifyAccess"

	c, err := m.parse(tok, m.accessSecret, TypeAccess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return toClaim(c)
}

// VerifyRefresh проверяет refresh-токен и возвращает его Claim.
func (m *Manager) VerifyRefresh(tok string) (*models.Claim, error) {
	const op = "token.VerifyRefresh"

	c, err := m.parse(tok, m.refreshSecret, TypeRefresh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return toClaim(c)
}

// IssuePasswordReset выпускает токен сброса пароля.
// Подписан access-секретом, но несёт только email и typ=password_reset,
// поэтому не может быть использован как access-токен. Однократность
// обеспечивает сервисный слой по jti.
func (m *Manager) IssuePasswordReset(email string) (string, error) {
	const op = "token.IssuePasswordReset"

	if email == "" {
		return "", fmt.Errorf("%s: %w: empty email", op, ErrInvalidToken)
	}

	signed, _, err := m.sign(m.accessSecret, TypePasswordReset, "", email, m.now().UTC(), m.resetTTL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// VerifyPasswordReset проверяет токен сброса пароля. В возвращаемой Claim
// UserID нулевой: токен адресован по email.
func (m *Manager) VerifyPasswordReset(tok string) (*models.Claim, error) {
	const op = "token.VerifyPasswordReset"

	c, err := m.parse(tok, m.accessSecret, TypePasswordReset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Токен сброса имеет форму "только email" и обязан нести jti.
	if c.UserID != "" || c.Email == "" || c.ID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return &models.Claim{
		Email:     c.Email,
		IssuedAt:  issuedAt(c),
		ExpiresAt: expiresAt(c),
		ID:        c.ID,
	}, nil
}

func (m *Manager) sign(secret []byte, typ, uid, email string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := jwt.NewNumericDate(now.Add(ttl))

	c := claims{
		UserID:     uid,
		Email:      email,
		Type:       typ,
		IssuedAtMs: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   uid,
			Audience:  jwt.ClaimStrings(m.audience),
			ExpiresAt: exp,
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        m.newID(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, exp.Time.UTC(), nil
}

func (m *Manager) parse(tok string, secret []byte, typ string) (*claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if len(m.audience) > 0 {
		opts = append(opts, jwt.WithAudience(m.audience...))
	}

	var c claims
	t, err := jwt.ParseWithClaims(tok, &c, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}

		return nil, ErrInvalidToken
	}

	if !t.Valid || c.Type != typ || c.ID == "" {
		return nil, ErrInvalidToken
	}

	return &c, nil
}

func toClaim(c *claims) (*models.Claim, error) {
	uid, err := uuid.Parse(c.UserID)
	if err != nil || c.Subject != c.UserID {
		return nil, ErrInvalidToken
	}

	return &models.Claim{
		UserID:    uid,
		Email:     c.Email,
		IssuedAt:  issuedAt(c),
		ExpiresAt: expiresAt(c),
		ID:        c.ID,
	}, nil
}

func issuedAt(c *claims) time.Time {
	if c.IssuedAtMs == 0 && c.IssuedAt != nil {
		return c.IssuedAt.Time.UTC()
	}

	return time.UnixMilli(c.IssuedAtMs).UTC()
}

func expiresAt(c *claims) time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}

	return c.ExpiresAt.Time.UTC()
}
