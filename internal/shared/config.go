package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	// loads .env into the process environment, if present
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces every setting: FINDMY_MYSQL_DSN -> mysql_dsn.
const EnvPrefix = "FINDMY_"

type Config struct {
	AppEnv      string `koanf:"app_env" validate:"required"`
	HTTPAddr    string `koanf:"http_addr" validate:"required"`
	MetricsAddr string `koanf:"metrics_addr"`
	MySQLDSN    string `koanf:"mysql_dsn" validate:"required"`
	RedisAddr   string `koanf:"redis_addr" validate:"required,hostname_port"`
	RedisPass   string `koanf:"redis_password"`
	RedisDB     int    `koanf:"redis_db" validate:"gte=0"`

	// RequestTimeout is the whole-request budget; expiry is answered as 504.
	RequestTimeout time.Duration `koanf:"http_request_timeout" validate:"gte=1s"`

	ScoreConcurrency int           `koanf:"score_concurrency" validate:"gte=1,lte=256"`
	ScoreTimeout     time.Duration `koanf:"score_query_timeout" validate:"gte=0"`
	ScorePolicy      string        `koanf:"score_policy" validate:"oneof=all banded"`
	ScoreClamp       bool          `koanf:"score_clamp"`

	RescoreWorkers int           `koanf:"rescore_workers" validate:"gte=1,lte=256"`
	RescoreRPS     float64       `koanf:"rescore_rps" validate:"gte=0"`
	RescoreLockTTL time.Duration `koanf:"rescore_lock_ttl" validate:"gte=1s"`
}

func Defaults() Config {
	return Config{
		AppEnv:           "prod",
		HTTPAddr:         ":8080",
		RequestTimeout:   15 * time.Second,
		MySQLDSN:         "root:root@tcp(localhost:3306)/findmy?parseTime=true&charset=utf8mb4,utf8&loc=UTC",
		RedisAddr:        "localhost:6379",
		ScoreConcurrency: 8,
		ScoreTimeout:     5 * time.Second,
		ScorePolicy:      "all",
		RescoreWorkers:   8,
		RescoreRPS:       50,
		RescoreLockTTL:   30 * time.Minute,
	}
}

// Load reads FINDMY_* variables over Defaults and validates the result.
func Load() (Config, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	c := Defaults()
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}
