// Package config provides layered configuration loading for the storyline
// sweeper. It merges Defaults -> Environment Variables, with validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variable names; the lower-cased
// remainder is the config key, e.g. STORYLINE_DATA_DIR sets data_dir.
const EnvPrefix = "STORYLINE_"

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config holds the merged runtime configuration.
type Config struct {
	Addr            string        `koanf:"addr" validate:"required,ip_port"`
	DataDir         string        `koanf:"data_dir" validate:"required,safe_path"`
	Backend         string        `koanf:"backend" validate:"oneof=sqlite dynamodb"`
	DynamoTable     string        `koanf:"dynamo_table"`
	DynamoEndpoint  string        `koanf:"dynamo_endpoint" validate:"omitempty,url"`
	DynamoRegion    string        `koanf:"dynamo_region"`
	SweepInterval   time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	ScanEvery       int           `koanf:"scan_every" validate:"gte=0"`
	FanoutBatchSize int           `koanf:"fanout_batch_size" validate:"min=1,max=25"`
	MetricsFlush    time.Duration `koanf:"metrics_flush" validate:"gt=0"`
	MetricsToken    string        `koanf:"metrics_token"`
	LogLevel        slog.Level    `koanf:"log_level"`
}

// DefaultAppConfig holds the defaults every other layer overrides.
var DefaultAppConfig = Config{
	Addr:            ":8080",
	DataDir:         "data",
	Backend:         BackendSQLite,
	SweepInterval:   time.Minute,
	ScanEvery:       60,
	FanoutBatchSize: 25,
	MetricsFlush:    10 * time.Second,
	LogLevel:        slog.LevelInfo,
}

var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("safe_path", validSafePath)
	}
)

// Load merges the defaults with the environment, then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToLogLevel(),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendDynamoDB && cfg.DynamoTable == "" {
		return nil, errors.New("dynamo_table is required when backend is dynamodb")
	}
	return &cfg, nil
}

// SQLiteDSN returns the DSN of the item store under DataDir. Transactions
// take the write lock when they begin so read-modify-write cycles serialize.
func (c *Config) SQLiteDSN() string {
	return sqliteDSN(filepath.Join(c.DataDir, "storyline.db"))
}

// MetricsDSN returns the DSN of the metrics database under DataDir.
func (c *Config) MetricsDSN() string {
	return sqliteDSN(filepath.Join(c.DataDir, "metrics.db"))
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL&_txlock=immediate"
}

// validIPPort accepts host:port where host is empty or an IP literal.
func validIPPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// validSafePath rejects empty paths, the current or root directory, and any
// path with a ".." segment.
func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != "/"
}
