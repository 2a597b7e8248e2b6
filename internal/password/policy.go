// password содержит политику сложности паролей и bcrypt-хэширование.
package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinLength — минимальная длина пароля в символах.
const MinLength = 8

// Symbols — допустимый набор спецсимволов, один из которых обязателен.
const Symbols = `!@#$%^&*(),.?":{}|<>`

// Сообщения о нарушениях политики, в порядке проверки.
const (
	MsgTooShort = "Password must be at least 8 characters long"
	MsgNoUpper  = "Password must contain at least one uppercase letter"
	MsgNoLower  = "Password must contain at least one lowercase letter"
	MsgNoDigit  = "Password must contain at least one number"
	MsgNoSymbol = "Password must contain at least one special character"
)

// Result — результат проверки пароля политикой.
// Valid == true тогда и только тогда, когда Errors пуст.
type Result struct {
	Valid  bool
	Errors []string
}

// Validate проверяет пароль по всем правилам независимо друг от друга.
// Нарушения накапливаются в фиксированном порядке. Функция чистая.
func Validate(pw string) Result {
	var errs []string

	if utf8.RuneCountInString(pw) < MinLength {
		errs = append(errs, MsgTooShort)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(Symbols, r):
			hasSymbol = true
		}
	}

	if !hasUpper {
		errs = append(errs, MsgNoUpper)
	}
	if !hasLower {
		errs = append(errs, MsgNoLower)
	}
	if !hasDigit {
		errs = append(errs, MsgNoDigit)
	}
	if !hasSymbol {
		errs = append(errs, MsgNoSymbol)
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}
