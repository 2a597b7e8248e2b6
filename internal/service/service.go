// service содержит бизнес-логику аутентификации: регистрацию, вход,
// ротацию refresh-токенов, выход и сброс пароля. Компоненты (политика
// паролей, хэшер, менеджер токенов, хранилища) подключаются через
// конструктор и сеттеры.
//
// Основные аспекты:
//   - Service не хранит состояние запроса и безопасен для конкурентного
//     использования, если потокобезопасны переданные хранилища;
//   - "пользователь не найден" и "неверный пароль" сводятся к одной
//     ошибке ErrInvalidCredentials;
//   - ошибки коллабораторов не повторяются и возвращаются с контекстом op;
//   - без списка отзыва (SetRevocations) выход носит рекомендательный
//     характер: выпущенные токены действуют до естественного истечения.
//
// Маппинг ошибок на транспорт описан в комментариях к переменным ниже.
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pribylovaa/portal-auth/internal/config"
	"github.com/pribylovaa/portal-auth/internal/mailer"
	"github.com/pribylovaa/portal-auth/internal/password"
	"github.com/pribylovaa/portal-auth/internal/storage"
	"github.com/pribylovaa/portal-auth/internal/token"
)

var (
	// ErrValidation — общий предок ошибок входных данных.
	// Транспорт: codes.InvalidArgument (HTTP 400).
	ErrValidation = errors.New("validation failed")

	// ErrInvalidEmail — e-mail имеет некорректный формат.
	ErrInvalidEmail = fmt.Errorf("%w: invalid email format", ErrValidation)

	// ErrWeakPassword — пароль не удовлетворяет политике сложности.
	// Конкретные нарушения перечисляет *WeakPasswordError.
	ErrWeakPassword = fmt.Errorf("%w: password is too weak", ErrValidation)

	// ErrInvalidInput — прочие некорректные поля запроса (имя, пустой токен).
	ErrInvalidInput = fmt.Errorf("%w: invalid input", ErrValidation)

	// ErrPasswordTooLong — пароль длиннее 72 байт.
	ErrPasswordTooLong = password.ErrPasswordTooLong

	// ErrInvalidCredentials — пара логин/пароль неверна или пользователь не найден.
	// Транспорт: codes.Unauthenticated (HTTP 401), сообщение общее.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken — токен некорректен, истёк, отозван или его владелец удалён.
	// Транспорт: codes.Unauthenticated (HTTP 401).
	ErrInvalidToken = token.ErrInvalidToken

	// ErrTokenExpired — срок действия токена истёк (частный случай ErrInvalidToken).
	ErrTokenExpired = token.ErrTokenExpired

	// ErrEmailTaken — e-mail уже занят.
	// Транспорт: codes.AlreadyExists (HTTP 409).
	ErrEmailTaken = errors.New("email already taken")
)

// WeakPasswordError перечисляет все нарушенные правила политики паролей.
// errors.Is(err, ErrWeakPassword) и errors.Is(err, ErrValidation) для неё true.
type WeakPasswordError struct {
	Violations []string
}

func (e *WeakPasswordError) Error() string {
	return ErrWeakPassword.Error() + ": " + strings.Join(e.Violations, "; ")
}

func (e *WeakPasswordError) Unwrap() error { return ErrWeakPassword }

// Service описывает бизнес-логику аутентификации.
type Service struct {
	users       storage.UserStorage
	revocations storage.RevocationStorage // может быть nil
	mailer      mailer.Mailer
	tokens      *token.Manager
	hasher      *password.Hasher
	cfg         config.AuthConfig
	now         func() time.Time
}

// New создаёт новый экземпляр Service.
func New(users storage.UserStorage, tokens *token.Manager, hasher *password.Hasher, cfg config.AuthConfig) *Service {
	return &Service{
		users:  users,
		mailer: mailer.LogSender{},
		tokens: tokens,
		hasher: hasher,
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetRevocations подключает список отзыва (опционально).
// С ним logout, ротация и сброс пароля инвалидируют токены немедленно.
func (s *Service) SetRevocations(r storage.RevocationStorage) {
	s.revocations = r
}

// SetMailer устанавливает отправителя писем сброса пароля.
// По умолчанию используется mailer.LogSender.
func (s *Service) SetMailer(m mailer.Mailer) {
	if m != nil {
		s.mailer = m
	}
}

// RevocationsEnabled сообщает, подключён ли список отзыва.
func (s *Service) RevocationsEnabled() bool {
	return s.revocations != nil
}
