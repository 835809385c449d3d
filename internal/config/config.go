// Package config loads crm-report configuration from an optional YAML file
// and CRMREPORT_* environment variables.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/Sternrassler/crm-report/pkg/client"
	"github.com/Sternrassler/crm-report/pkg/logging"
	"github.com/Sternrassler/crm-report/pkg/report"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CRMREPORT_BITRIX_BASE_URL.
const EnvPrefix = "CRMREPORT"

// Config is the full service configuration.
type Config struct {
	Bitrix BitrixConfig `mapstructure:"bitrix"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Server ServerConfig `mapstructure:"server"`
	Report ReportConfig `mapstructure:"report"`
	Log    LogConfig    `mapstructure:"log"`
}

// BitrixConfig configures the REST client.
type BitrixConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=1,lte=10"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
}

// RedisConfig configures the operating-time tracker. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// ReportConfig configures report building.
type ReportConfig struct {
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PageSize         int           `mapstructure:"page_size" validate:"gte=1"`
	Concurrency      int           `mapstructure:"concurrency" validate:"gte=1,lte=32"`
	DealEntityTypeID int           `mapstructure:"deal_entity_type_id" validate:"gt=0"`
	ItemEntityTypeID int           `mapstructure:"item_entity_type_id" validate:"gt=0"`
	ScoreField       string        `mapstructure:"score_field" validate:"required"`
	// Categories are "label=Category name" pairs in output order.
	Categories []string `mapstructure:"categories" validate:"required,dive,category_label"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bitrix.base_url", "")
	v.SetDefault("bitrix.timeout", 10*time.Second)
	v.SetDefault("bitrix.user_agent", "crm-report/0.1.0")
	v.SetDefault("bitrix.max_retries", 3)
	v.SetDefault("bitrix.initial_backoff", 500*time.Millisecond)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.addr", ":8080")

	defaults := report.DefaultConfig()
	v.SetDefault("report.timeout", defaults.Timeout)
	v.SetDefault("report.page_size", defaults.PageSize)
	v.SetDefault("report.concurrency", defaults.Concurrency)
	v.SetDefault("report.deal_entity_type_id", defaults.DealEntityTypeID)
	v.SetDefault("report.item_entity_type_id", defaults.ItemEntityTypeID)
	v.SetDefault("report.score_field", defaults.ScoreField)

	categories := make([]string, 0, len(defaults.Labels))
	for _, label := range defaults.Labels {
		categories = append(categories, label.Key+"="+label.Category)
	}
	v.SetDefault("report.categories", categories)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads configuration. configFile may be empty; environment variables
// override file values, which override defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("category_label", validateCategoryLabel)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
	})
	return v
}

// validateCategoryLabel checks a "label=Category name" pair.
func validateCategoryLabel(fl validator.FieldLevel) bool {
	_, err := parseLabel(fl.Field().String())
	return err == nil
}

func parseLabel(s string) (report.Label, error) {
	key, name, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	name = strings.TrimSpace(name)
	if !ok || key == "" || name == "" {
		return report.Label{}, fmt.Errorf("category %q must look like label=Category name", s)
	}
	return report.Label{Key: key, Category: name}, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.ToLower(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ClientConfig builds the Bitrix24 client configuration. rdb may be nil.
func (c *Config) ClientConfig(rdb *redis.Client) client.Config {
	cfg := client.DefaultConfig(c.Bitrix.BaseURL)
	cfg.Timeout = c.Bitrix.Timeout
	if c.Bitrix.UserAgent != "" {
		cfg.UserAgent = c.Bitrix.UserAgent
	}
	cfg.Retry.MaxAttempts = c.Bitrix.MaxRetries
	cfg.Retry.InitialBackoff = c.Bitrix.InitialBackoff
	cfg.Redis = rdb
	return cfg
}

// RedisOptions returns connection options, or nil when the tracker is disabled.
func (c *Config) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// ReportConfig builds the orchestrator configuration.
func (c *Config) ReportConfig() (report.Config, error) {
	labels := make([]report.Label, 0, len(c.Report.Categories))
	for _, entry := range c.Report.Categories {
		label, err := parseLabel(entry)
		if err != nil {
			return report.Config{}, err
		}
		labels = append(labels, label)
	}

	return report.Config{
		Labels:           labels,
		DealEntityTypeID: c.Report.DealEntityTypeID,
		ItemEntityTypeID: c.Report.ItemEntityTypeID,
		ScoreField:       c.Report.ScoreField,
		PageSize:         c.Report.PageSize,
		Concurrency:      c.Report.Concurrency,
		Timeout:          c.Report.Timeout,
	}, nil
}

// LoggingConfig builds the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Pretty
	return cfg
}
