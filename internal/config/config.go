// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format   string `yaml:"format" validate:"oneof=json console"`
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PublicBaseURL  string        `yaml:"public_base_url" validate:"omitempty,url"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" validate:"required,min=16"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url" validate:"required"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" validate:"required"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// GatewayConfig is the secret material and limits of one payment gateway.
type GatewayConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MerchantKey     string `yaml:"merchant_key" validate:"required_if=Enabled true"`
	Secret          string `yaml:"secret" validate:"required_if=Enabled true"`
	BaseURL         string `yaml:"base_url" validate:"omitempty,url"`
	Sandbox         bool   `yaml:"sandbox"`
	MaxReferenceLen int    `yaml:"max_reference_len" validate:"min=0"`
}

type PaymentConfig struct {
	AccessPeriod        time.Duration `yaml:"access_period"`
	StorageTimeout      time.Duration `yaml:"storage_timeout"`
	ConflictRetries     int           `yaml:"conflict_retries" validate:"min=0,max=10"`
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	ReconcileStaleAfter time.Duration `yaml:"reconcile_stale_after"`
	WebhookRateLimit    int           `yaml:"webhook_rate_limit"` // per gateway+remote per minute, 0 disables
	Currency            string        `yaml:"currency" validate:"len=3"`
	SubscriptionPrice   int64         `yaml:"subscription_price" validate:"min=0"` // all-courses pass, 0 disables
	ReturnURL           string        `yaml:"return_url" validate:"omitempty,url"`

	IPaymu   GatewayConfig `yaml:"ipaymu"`
	Midtrans GatewayConfig `yaml:"midtrans"`
}

type AlertConfig struct {
	TelegramToken string        `yaml:"telegram_token"`
	AdminChatIDs  []int64       `yaml:"admin_chat_ids"`
	RedisList     string        `yaml:"redis_list"`
	SendTimeout   time.Duration `yaml:"send_timeout"` // per Bot API call
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Payment  PaymentConfig  `yaml:"payment"`
	Alert    AlertConfig    `yaml:"alert"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. Variables from a .env file next to the
// process (if any) and the environment are expanded into the YAML before parsing,
// so secrets can stay out of the file as ${VAR} references.
func LoadConfig(path string, dev bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse([]byte(os.ExpandEnv(string(b))))
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if !cfg.Payment.IPaymu.Enabled && !cfg.Payment.Midtrans.Enabled {
		return nil, errors.New("at least one payment gateway must be enabled")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 30 * time.Minute
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	p := &cfg.Payment
	if p.AccessPeriod <= 0 {
		p.AccessPeriod = 30 * 24 * time.Hour
	}
	if p.StorageTimeout <= 0 {
		p.StorageTimeout = 5 * time.Second
	}
	if p.ConflictRetries == 0 {
		p.ConflictRetries = 3
	}
	if p.ReconcileInterval <= 0 {
		p.ReconcileInterval = time.Minute
	}
	if p.ReconcileStaleAfter <= 0 {
		p.ReconcileStaleAfter = 10 * time.Minute
	}
	if p.Currency == "" {
		p.Currency = "IDR"
	}
	if p.Midtrans.MaxReferenceLen == 0 {
		p.Midtrans.MaxReferenceLen = 50
	}
	if cfg.Alert.RedisList == "" {
		cfg.Alert.RedisList = "coursepay:reconciliation_alerts"
	}
	if cfg.Alert.SendTimeout <= 0 {
		cfg.Alert.SendTimeout = 5 * time.Second
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
