// Package config loads findash settings from defaults, an optional YAML
// file and FINDASH_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/TFMV/findash/auth"
	"github.com/TFMV/findash/db"
	"github.com/TFMV/findash/loader"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FINDASH"

// Config is the findash configuration.
type Config struct {
	DataPath           string   `mapstructure:"data_path" yaml:"data_path"`
	HTTPAddr           string   `mapstructure:"http_addr" yaml:"http_addr"`
	FlightAddr         string   `mapstructure:"flight_addr" yaml:"flight_addr"`
	CacheSize          int      `mapstructure:"cache_size" yaml:"cache_size"`
	Watch              bool     `mapstructure:"watch" yaml:"watch"`
	NullValues         []string `mapstructure:"null_values" yaml:"null_values"`
	Delimiter          string   `mapstructure:"delimiter" yaml:"delimiter"`
	GCSCredentialsFile string   `mapstructure:"gcs_credentials_file" yaml:"gcs_credentials_file"`
	Debug              bool     `mapstructure:"debug" yaml:"debug"`
	// ReaderUsers may fetch rows over Flight. Empty disables the check.
	ReaderUsers []string `mapstructure:"reader_users" yaml:"reader_users"`
	// FlightSources are served over Flight besides DataPath.
	FlightSources []string `mapstructure:"flight_sources" yaml:"flight_sources"`
	Bins          int      `mapstructure:"bins" yaml:"bins"`
	Codec         string   `mapstructure:"codec" yaml:"codec"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataPath:      "financial_data.csv",
		HTTPAddr:      ":8080",
		FlightAddr:    "localhost:8815",
		CacheSize:     8,
		Watch:         true,
		NullValues:    append([]string(nil), loader.DefaultNullValues...),
		Delimiter:     ",",
		ReaderUsers:   []string{},
		FlightSources: []string{},
		Bins:          30,
		Codec:         "snappy",
	}
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. An empty cfgFile looks for an
// optional findash.yaml in the working directory.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("data_path", def.DataPath)
	v.SetDefault("http_addr", def.HTTPAddr)
	v.SetDefault("flight_addr", def.FlightAddr)
	v.SetDefault("cache_size", def.CacheSize)
	v.SetDefault("watch", def.Watch)
	v.SetDefault("null_values", def.NullValues)
	v.SetDefault("delimiter", def.Delimiter)
	v.SetDefault("gcs_credentials_file", "")
	v.SetDefault("debug", false)
	v.SetDefault("reader_users", def.ReaderUsers)
	v.SetDefault("flight_sources", def.FlightSources)
	v.SetDefault("bins", def.Bins)
	v.SetDefault("codec", def.Codec)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("findash")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes c as YAML to path.
func Save(c *Config, path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if utf8.RuneCountInString(c.Delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", c.Delimiter)
	}
	if c.Bins < 1 {
		return fmt.Errorf("bins must be positive, got %d", c.Bins)
	}
	return nil
}

// Comma returns the delimiter rune.
func (c *Config) Comma() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	return r
}

// DBOptions converts c to dataset cache options.
func (c *Config) DBOptions(logger *zap.Logger) db.Options {
	opts := db.DefaultOptions()
	opts.CacheSize = c.CacheSize
	opts.Watch = c.Watch
	opts.Loader.Comma = c.Comma()
	opts.Loader.NullValues = c.NullValues
	opts.Sources.GCSCredentialsFile = c.GCSCredentialsFile
	opts.Logger = logger
	return opts
}

// Roles returns the Flight role table, or nil when every caller may read.
func (c *Config) Roles() auth.RoleManager {
	if len(c.ReaderUsers) == 0 {
		return nil
	}
	return auth.Readers(c.ReaderUsers...)
}

// Logger builds the process logger: development output when Debug is set.
func (c *Config) Logger() (*zap.Logger, error) {
	if c.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
