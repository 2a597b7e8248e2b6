// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"golang.org/x/crypto/bcrypt"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
//
// Переменные окружения всегда накладываются поверх значений из файла.
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Auth      AuthConfig      `yaml:"auth"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Mail      MailConfig      `yaml:"mail"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service  time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// HTTPConfig — сетевые настройки публичного HTTP-сервера.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// GRPCConfig описывает сетевые настройки внутреннего gRPC-сервера.
type GRPCConfig struct {
	Host string `yaml:"host" env:"GRPC_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"GRPC_PORT" env-default:"50051"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// Addr возвращает адрес в формате host:port.
func (g GRPCConfig) Addr() string {
	return net.JoinHostPort(g.Host, g.Port)
}

// AuthConfig содержит параметры выпуска и проверки токенов и хэширования паролей.
// Access- и refresh-токены подписываются РАЗНЫМИ секретами.
type AuthConfig struct {
	AccessSecret    string        `yaml:"access_secret" env:"ACCESS_TOKEN_SECRET" env-required:"true"`
	RefreshSecret   string        `yaml:"refresh_secret" env:"REFRESH_TOKEN_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	ResetTokenTTL   time.Duration `yaml:"reset_token_ttl" env:"RESET_TOKEN_TTL" env-default:"1h"`
	Issuer          string        `yaml:"issuer" env:"TOKEN_ISSUER" env-default:"portal-auth"`
	Audience        []string      `yaml:"audience" env:"TOKEN_AUDIENCE" env-default:"portal"`
	BcryptCost      int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"12"`
}

// DBConfig — настройки подключения к базе данных.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig — необязательный Redis. Пустой URL означает, что список отзыва
// хранится в PostgreSQL, а бакеты rate limit — в памяти процесса.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"auth:"`
}

// Enabled сообщает, сконфигурирован ли Redis.
func (r RedisConfig) Enabled() bool { return r.RedisURL != "" }

// LimitPolicy — окно и лимит запросов для одного класса маршрутов.
type LimitPolicy struct {
	Window time.Duration `yaml:"window" env:"WINDOW"`
	Max    int           `yaml:"max" env:"MAX"`
}

// RateLimitConfig — политики ограничения частоты запросов.
type RateLimitConfig struct {
	Disabled bool `yaml:"disabled" env:"RATE_LIMIT_DISABLED" env-default:"false"`
	// Store: "memory" или "redis" (требует Redis.RedisURL).
	Store string `yaml:"store" env:"RATE_LIMIT_STORE" env-default:"memory"`
	// TrustProxy разрешает брать адрес клиента из X-Forwarded-For / X-Real-IP.
	TrustProxy bool `yaml:"trust_proxy" env:"RATE_LIMIT_TRUST_PROXY" env-default:"false"`

	General           LimitPolicy `yaml:"general" env-prefix:"RATE_LIMIT_GENERAL_"`
	Login             LimitPolicy `yaml:"login" env-prefix:"RATE_LIMIT_LOGIN_"`
	Register          LimitPolicy `yaml:"register" env-prefix:"RATE_LIMIT_REGISTER_"`
	PasswordReset     LimitPolicy `yaml:"password_reset" env-prefix:"RATE_LIMIT_PASSWORD_RESET_"`
	WorkflowExecution LimitPolicy `yaml:"workflow_execution" env-prefix:"RATE_LIMIT_WORKFLOW_"`
}

// MailConfig — отправка писем сброса пароля. Пустой ключ API включает
// отправитель, который только пишет событие в лог (для local/dev).
type MailConfig struct {
	ResendAPIKey string `yaml:"resend_api_key" env:"RESEND_API_KEY"`
	From         string `yaml:"from" env:"MAIL_FROM" env-default:"no-reply@portal.local"`
	AppURL       string `yaml:"app_url" env:"APP_URL" env-default:"http://localhost:3000"`
}

// Политики по умолчанию применяются к нулевым полям после загрузки.
var (
	DefaultGeneral           = LimitPolicy{Window: 15 * time.Minute, Max: 100}
	DefaultLogin             = LimitPolicy{Window: 15 * time.Minute, Max: 5}
	DefaultRegister          = LimitPolicy{Window: 60 * time.Minute, Max: 3}
	DefaultPasswordReset     = LimitPolicy{Window: 60 * time.Minute, Max: 3}
	DefaultWorkflowExecution = LimitPolicy{Window: time.Minute, Max: 10}
)

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения применяет значения по умолчанию для политик и валидирует результат.
func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) error {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		return nil
	}

	switch {
	case path != "":
		if err := readFile(path); err != nil {
			return nil, err
		}
	case os.Getenv("CONFIG_PATH") != "":
		if err := readFile(os.Getenv("CONFIG_PATH")); err != nil {
			return nil, err
		}
	default:
		if _, err := os.Stat("local.yaml"); err == nil {
			if err := readFile("local.yaml"); err != nil {
				return nil, err
			}
		} else if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}
	}

	// cleanenv.ReadConfig уже накладывает ENV поверх файла.
	cfg.RateLimit.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (r *RateLimitConfig) applyDefaults() {
	fill := func(p *LimitPolicy, def LimitPolicy) {
		if p.Window <= 0 {
			p.Window = def.Window
		}
		if p.Max <= 0 {
			p.Max = def.Max
		}
	}

	fill(&r.General, DefaultGeneral)
	fill(&r.Login, DefaultLogin)
	fill(&r.Register, DefaultRegister)
	fill(&r.PasswordReset, DefaultPasswordReset)
	fill(&r.WorkflowExecution, DefaultWorkflowExecution)
}

// Validate проверяет инварианты, которые нельзя выразить тегами cleanenv.
func (c *Config) Validate() error {
	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" {
		return errors.New("config: access and refresh secrets are required")
	}

	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.ResetTokenTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}

	if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		return errors.New("config: access token TTL must be shorter than refresh token TTL")
	}

	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("config: bcrypt cost %d out of range [%d, %d]", c.Auth.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	switch c.RateLimit.Store {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return errors.New("config: rate_limit.store=redis requires redis.redis_url")
		}
	default:
		return fmt.Errorf("config: unknown rate limit store %q", c.RateLimit.Store)
	}

	return nil
}
