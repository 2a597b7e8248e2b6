package password

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost — стоимость bcrypt по умолчанию.
const DefaultCost = 12

var (
	// ErrPasswordTooLong — пароль длиннее 72 байт, bcrypt его не принимает.
	// Транспорт: HTTP 400.
	ErrPasswordTooLong = errors.New("password is too long")

	// ErrInvalidCost — стоимость вне допустимого диапазона bcrypt.
	ErrInvalidCost = errors.New("invalid bcrypt cost")
)

// maxBytes — предел длины входа bcrypt.
const maxBytes = 72

// Hasher хэширует и проверяет пароли через bcrypt.
// Безопасен для конкурентного использования.
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher создаёт Hasher с заданной стоимостью; 0 означает DefaultCost.
func NewHasher(cost int) (*Hasher, error) {
	const op = "password.hasher.NewHasher"

	if cost == 0 {
		cost = DefaultCost
	}

	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%s: %w: %d", op, ErrInvalidCost, cost)
	}

	return &Hasher{cost: cost}, nil
}

// Cost возвращает стоимость, с которой создаются новые хэши.
func (h *Hasher) Cost() int { return h.cost }

// Hash возвращает bcrypt-хэш пароля (соль и стоимость закодированы в нём).
func (h *Hasher) Hash(plain string) (string, error) {
	const op = "password.hasher.Hash"

	if len(plain) > maxBytes {
		return "", fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(b), nil
}

// Verify сравнивает пароль с хэшем. Любое несовпадение, включая
// повреждённый хэш, даёт false.
func (h *Hasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// VerifyDummy тратит на сравнение столько же времени, сколько Verify
// с настоящим хэшем. Используется, когда пользователь не найден.
func (h *Hasher) VerifyDummy(plain string) {
	h.dummyOnce.Do(func() {
		// Ошибка невозможна: вход короткий, стоимость проверена в NewHasher.
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), h.cost)
	})

	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plain))
}
