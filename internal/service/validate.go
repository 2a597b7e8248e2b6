package service

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/pribylovaa/portal-auth/internal/password"
)

const maxNameLength = 100

// normalizeEmail проверяет формат и приводит адрес к нижнему регистру.
// Формы вида "Name <a@b>" не принимаются.
func normalizeEmail(raw string) (string, error) {
	const op = "service.validate.normalizeEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// normalizeName обрезает пробелы и проверяет длину отображаемого имени.
func normalizeName(raw string) (string, error) {
	const op = "service.validate.normalizeName"

	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%s: %w: name is required", op, ErrInvalidInput)
	}

	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%s: %w: name is too long", op, ErrInvalidInput)
	}

	return name, nil
}

// checkPassword применяет политику сложности.
func checkPassword(pw string) error {
	if res := password.Validate(pw); !res.Valid {
		return &WeakPasswordError{Violations: res.Errors}
	}

	return nil
}
