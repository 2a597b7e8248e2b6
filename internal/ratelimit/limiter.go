// ratelimit ограничивает частоту запросов фиксированным окном
// со сбросом в конце окна.
//
// Основные аспекты:
//   - бакет (счётчик + начало окна) заводится лениво по ключу
//     "класс маршрута + идентификатор клиента";
//   - нет бакета или окно истекло: новое окно со счётчиком 1, запрос разрешён;
//     иначе счётчик увеличивается только пока он меньше Max, иначе отказ;
//   - "прочитать, сравнить, увеличить" выполняет атомарно Store.Update,
//     поэтому внутри живого окна счётчик никогда не превышает Max;
//   - для политик со SkipSuccessful успешный запрос возвращает единицу
//     через Release и не расходует квоту.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pribylovaa/portal-auth/internal/config"
	"github.com/pribylovaa/portal-auth/internal/metrics"
	"github.com/pribylovaa/portal-auth/internal/models"
)

// Class — класс маршрутов со своей политикой и независимыми бакетами.
type Class string

const (
	ClassGeneral           Class = "general"
	ClassLogin             Class = "login"
	ClassRegister          Class = "register"
	ClassPasswordReset     Class = "password_reset"
	ClassWorkflowExecution Class = "workflow_execution"
)

// ErrUnknownClass — для класса не настроена политика.
var ErrUnknownClass = errors.New("unknown rate limit class")

// Policy — окно и лимит запросов.
type Policy struct {
	Window time.Duration
	Max    int
	// SkipSuccessful — успешные запросы не расходуют квоту (см. Release).
	SkipSuccessful bool
}

// Decision — результат проверки одного запроса.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	Limit      int
	ResetAt    time.Time
}

// ExceededError возвращается Allow при отказе.
// Транспорт: HTTP 429 с заголовком Retry-After.
type ExceededError struct {
	Class      Class
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Class, e.RetryAfter)
}

// RetryAfterSeconds — значение для заголовка Retry-After (округление вверх, минимум 1).
func (e *ExceededError) RetryAfterSeconds() int {
	return RetryAfterSeconds(e.RetryAfter)
}

// RetryAfterSeconds округляет длительность вверх до целых секунд, минимум 1.
func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}

	return s
}

// Policies возвращает политики из конфигурации. Вход — единственный класс
// со SkipSuccessful.
func Policies(cfg config.RateLimitConfig) map[Class]Policy {
	from := func(p config.LimitPolicy) Policy {
		return Policy{Window: p.Window, Max: p.Max}
	}

	login := from(cfg.Login)
	login.SkipSuccessful = true

	return map[Class]Policy{
		ClassGeneral:           from(cfg.General),
		ClassLogin:             login,
		ClassRegister:          from(cfg.Register),
		ClassPasswordReset:     from(cfg.PasswordReset),
		ClassWorkflowExecution: from(cfg.WorkflowExecution),
	}
}

// DefaultPolicies — политики по умолчанию.
func DefaultPolicies() map[Class]Policy {
	return Policies(config.RateLimitConfig{
		General:           config.DefaultGeneral,
		Login:             config.DefaultLogin,
		Register:          config.DefaultRegister,
		PasswordReset:     config.DefaultPasswordReset,
		WorkflowExecution: config.DefaultWorkflowExecution,
	})
}

// Limiter применяет политики к бакетам в Store. Безопасен для конкурентного
// использования, если безопасен Store.
type Limiter struct {
	store    Store
	policies map[Class]Policy
	now      func() time.Time
}

// Option настраивает Limiter.
type Option func(*Limiter)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New создаёт Limiter поверх store с заданными политиками.
func New(store Store, policies map[Class]Policy, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		policies: policies,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Policy возвращает политику класса.
func (l *Limiter) Policy(class Class) (Policy, bool) {
	p, ok := l.policies[class]
	return p, ok
}

// Check учитывает запрос identity в классе class и возвращает решение.
// Ошибка возвращается только при неизвестном классе или отказе хранилища.
func (l *Limiter) Check(ctx context.Context, class Class, identity string) (Decision, error) {
	const op = "ratelimit.Check"

	p, ok := l.policies[class]
	if !ok {
		return Decision{}, fmt.Errorf("%s: %w: %q", op, ErrUnknownClass, class)
	}

	now := l.now()

	var allowed bool
	b, err := l.store.Update(ctx, key(class, identity), p.Window, func(cur models.Bucket, found bool) models.Bucket {
		if !found || cur.Expired(now, p.Window) {
			if p.Max < 1 {
				allowed = false
				return models.Bucket{WindowStart: now}
			}

			allowed = true
			return models.Bucket{Count: 1, WindowStart: now}
		}

		if cur.Count < p.Max {
			allowed = true
			cur.Count++
			return cur
		}

		allowed = false
		return cur
	})
	if err != nil {
		metrics.ObserveRateLimitStoreError(string(class))
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.ObserveRateLimit(string(class), allowed)

	resetAt := b.WindowStart.Add(p.Window)
	d := Decision{
		Allowed:   allowed,
		Remaining: max(p.Max-b.Count, 0),
		Limit:     p.Max,
		ResetAt:   resetAt,
	}
	if !allowed {
		d.RetryAfter = max(resetAt.Sub(now), 0)
	}

	return d, nil
}

// Allow — Check, возвращающий *ExceededError при отказе.
func (l *Limiter) Allow(ctx context.Context, class Class, identity string) error {
	d, err := l.Check(ctx, class, identity)
	if err != nil {
		return err
	}

	if !d.Allowed {
		return &ExceededError{Class: class, RetryAfter: d.RetryAfter}
	}

	return nil
}

// Release возвращает одну единицу квоты после успешного запроса для
// политик со SkipSuccessful. Для остальных политик ничего не делает.
// Бакет другого (уже нового) окна не трогается.
func (l *Limiter) Release(ctx context.Context, class Class, identity string) error {
	const op = "ratelimit.Release"

	p, ok := l.policies[class]
	if !ok {
		return fmt.Errorf("%s: %w: %q", op, ErrUnknownClass, class)
	}

	if !p.SkipSuccessful {
		return nil
	}

	now := l.now()

	_, err := l.store.Update(ctx, key(class, identity), p.Window, func(cur models.Bucket, found bool) models.Bucket {
		if found && !cur.Expired(now, p.Window) && cur.Count > 0 {
			cur.Count--
		}

		return cur
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func key(class Class, identity string) string {
	return string(class) + ":" + identity
}
