package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/droidscope/apkparser"
)

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Limits LimitsConfig `mapstructure:"limits"`
	Locale LocaleConfig `mapstructure:"locale"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

type LimitsConfig struct {
	MaxEntrySize int64 `mapstructure:"max_entry_size"` // bytes read per archive entry
}

// LocaleConfig is the default locale of the res command.
type LocaleConfig struct {
	Lang    string `mapstructure:"lang"`
	Country string `mapstructure:"country"`
}

func (l LocaleConfig) locale() apkparser.Locale {
	return apkparser.Locale{Lang: l.Lang, Country: l.Country}
}

// loadConfig reads path when it is not empty. APKDUMP_* environment
// variables override the file, e.g. APKDUMP_LOG_LEVEL for log.level.
func loadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("limits.max_entry_size", apkparser.DefaultMaxEntrySize)
	v.SetDefault("locale.lang", "")
	v.SetDefault("locale.country", "")

	v.SetEnvPrefix("APKDUMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading config: %w", ErrApkdump, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config: %w", ErrApkdump, err)
	}
	if cfg.Limits.MaxEntrySize <= 0 {
		cfg.Limits.MaxEntrySize = apkparser.DefaultMaxEntrySize
	}
	return &cfg, nil
}
