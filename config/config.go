package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	lending "github.com/goliatone/go-lending"
)

// EnvPrefix is prepended to every environment variable, LENDING_AUTH_SIGNING_KEY
const EnvPrefix = "LENDING"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Settings is the process configuration. It implements lending.Config.
type Settings struct {
	Server    ServerSettings    `mapstructure:"server"`
	Database  DatabaseSettings  `mapstructure:"database"`
	Auth      AuthSettings      `mapstructure:"auth"`
	Identity  IdentitySettings  `mapstructure:"identity"`
	Lending   LendingSettings   `mapstructure:"lending"`
	Log       LogSettings       `mapstructure:"log"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
}

type ServerSettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Debug           bool          `mapstructure:"debug"`
}

// Addr is the listen address
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Debug  bool   `mapstructure:"debug"`
}

type AuthSettings struct {
	SigningKey      string   `mapstructure:"signing_key"`
	TokenExpiration int      `mapstructure:"token_expiration"`
	Issuer          string   `mapstructure:"issuer"`
	Audience        []string `mapstructure:"audience"`
	AuthScheme      string   `mapstructure:"auth_scheme"`
	ContextKey      string   `mapstructure:"context_key"`
	TokenLookup     string   `mapstructure:"token_lookup"`
	PasswordCost    int      `mapstructure:"password_cost"`
}

type IdentitySettings struct {
	HashidIDs bool `mapstructure:"hashid_ids"`
}

type LendingSettings struct {
	MaxBorrowed      int           `mapstructure:"max_borrowed"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type LogSettings struct {
	Level string `mapstructure:"level"`
}

type RateLimitSettings struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

var _ lending.Config = (*Settings)(nil)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "file:lending.db?cache=shared")
	v.SetDefault("database.debug", false)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_expiration", lending.DefaultTokenExpiration)
	v.SetDefault("auth.issuer", "go-lending")
	v.SetDefault("auth.audience", []string{"go-lending"})
	v.SetDefault("auth.auth_scheme", "Bearer")
	v.SetDefault("auth.context_key", lending.DefaultContextKey)
	v.SetDefault("auth.token_lookup", "header:Authorization")
	v.SetDefault("auth.password_cost", lending.DefaultPasswordCost)

	v.SetDefault("identity.hashid_ids", false)

	v.SetDefault("lending.max_borrowed", lending.MaxBorrowedBooks)
	v.SetDefault("lending.operation_timeout", lending.DefaultOperationTimeout.String())

	v.SetDefault("log.level", "info")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 10)
	v.SetDefault("rate_limit.burst", 5)
}

// Load reads defaults, the optional config file and the environment, in
// that order of precedence. An empty path searches for config.yaml in the
// working directory and /etc/lending.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("auth.signing_key", EnvPrefix+"_AUTH_SIGNING_KEY", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("bind signing key env: %w", err)
	}
	if err := v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("bind database env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lending")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	s.Database.Driver = strings.ToLower(strings.TrimSpace(s.Database.Driver))
	s.Log.Level = strings.ToLower(strings.TrimSpace(s.Log.Level))

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings the process cannot start without
func (s *Settings) Validate() error {
	err := validation.Errors{
		"auth": validation.ValidateStruct(&s.Auth,
			validation.Field(&s.Auth.SigningKey, validation.Required, validation.Length(16, 0)),
			validation.Field(&s.Auth.TokenExpiration, validation.Required, validation.Min(1)),
			validation.Field(&s.Auth.AuthScheme, validation.Required),
			validation.Field(&s.Auth.TokenLookup, validation.Required),
			validation.Field(&s.Auth.PasswordCost, validation.Min(bcrypt.MinCost), validation.Max(bcrypt.MaxCost)),
		),
		"database": validation.ValidateStruct(&s.Database,
			validation.Field(&s.Database.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
			validation.Field(&s.Database.DSN, validation.Required),
		),
		"server": validation.ValidateStruct(&s.Server,
			validation.Field(&s.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		),
		"lending": validation.ValidateStruct(&s.Lending,
			validation.Field(&s.Lending.MaxBorrowed, validation.Required, validation.Min(1)),
		),
		"log": validation.ValidateStruct(&s.Log,
			validation.Field(&s.Log.Level, validation.In("debug", "info", "warn", "error")),
		),
	}.Filter()

	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel maps the configured level name
func (s *Settings) SlogLevel() slog.Level {
	switch s.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *Settings) GetSigningKey() string {
	return s.Auth.SigningKey
}

func (s *Settings) GetTokenExpiration() int {
	return s.Auth.TokenExpiration
}

func (s *Settings) GetIssuer() string {
	return s.Auth.Issuer
}

func (s *Settings) GetAudience() []string {
	return s.Auth.Audience
}

func (s *Settings) GetAuthScheme() string {
	return s.Auth.AuthScheme
}

func (s *Settings) GetContextKey() string {
	return s.Auth.ContextKey
}

func (s *Settings) GetTokenLookup() string {
	return s.Auth.TokenLookup
}

func (s *Settings) GetPasswordCost() int {
	return s.Auth.PasswordCost
}

func (s *Settings) GetMaxBorrowed() int {
	return s.Lending.MaxBorrowed
}
