package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// ProviderConfig stores provider-specific configuration as key-value pairs.
type ProviderConfig map[string]interface{}

// Config wraps viper and provides typed accessors.
type Config struct {
	v         *viper.Viper
	providers map[string]ProviderConfig
}

// Load reads an INI config file and prepares defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TUNERESOLVE")
	v.AutomaticEnv()

	setDefaults(v)

	c := &Config{
		v:         v,
		providers: make(map[string]ProviderConfig),
	}

	if path == "" {
		return c, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".ini") {
		cfg, err := loadINI(v, path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		loadProviders(cfg, c)
		return c, nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "text")
	v.SetDefault("LogSource", false)
	v.SetDefault("GormLogLevel", "warn")
	v.SetDefault("Database", "cache.db")
	v.SetDefault("CacheDir", "./cache")
	v.SetDefault("CacheEnabled", true)
	v.SetDefault("CacheTTLSeconds", 24*60*60)
	v.SetDefault("LyricTTLSeconds", 24*60*60)
	v.SetDefault("LyricCacheMax", 500)
	v.SetDefault("CoverMaxFiles", 2000)
	v.SetDefault("CoverMaxBytes", int64(200)*1024*1024)
	v.SetDefault("WorkerPoolSize", 4)
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("RetryWaitMinMS", 200)
	v.SetDefault("RetryWaitMaxMS", 2000)
	v.SetDefault("AttemptBudgetSeconds", 30)
	v.SetDefault("RequestTimeoutSeconds", 10)
	v.SetDefault("RateLimitPerSecond", 5.0)
	v.SetDefault("RateLimitBurst", 10)
	v.SetDefault("DefaultQuality", "lossless")
	v.SetDefault("OriginPlatform", "netease")
	v.SetDefault("BridgePlatforms", "netease,qqmusic,kuwo,kugou")
	v.SetDefault("ProxyURL", "")
	v.SetDefault("MemoCacheSize", 256)
	v.SetDefault("MemoTTLSeconds", 600)
}

// GetString returns a string value.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns an int value.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetInt64 returns an int64 value.
func (c *Config) GetInt64(key string) int64 {
	return c.v.GetInt64(key)
}

// GetFloat64 returns a float64 value.
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool returns a bool value.
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice returns a comma-separated value as a trimmed string slice.
func (c *Config) GetStringSlice(key string) []string {
	raw := c.v.GetString(key)
	if strings.TrimSpace(raw) == "" {
		return c.v.GetStringSlice(key)
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// GetProviderConfig retrieves provider-specific configuration by name.
func (c *Config) GetProviderConfig(name string) (ProviderConfig, bool) {
	cfg, ok := c.providers[name]
	return cfg, ok
}

// ProviderNames returns the configured provider names.
func (c *Config) ProviderNames() []string {
	if len(c.providers) == 0 {
		return nil
	}
	nameList := make([]string, 0, len(c.providers))
	for name := range c.providers {
		nameList = append(nameList, name)
	}
	sort.Strings(nameList)
	return nameList
}

// GetProviderString returns a string value from provider configuration.
// Returns empty string if provider or key not found.
func (c *Config) GetProviderString(provider, key string) string {
	cfg, ok := c.providers[provider]
	if !ok {
		return ""
	}
	val, ok := cfg[key]
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", val)
}

// GetProviderInt returns an int value from provider configuration.
func (c *Config) GetProviderInt(provider, key string) int {
	cfg, ok := c.providers[provider]
	if !ok {
		return 0
	}
	val, ok := cfg[key]
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case string:
		num, _ := strconv.Atoi(v)
		return num
	default:
		return 0
	}
}

// GetProviderBool returns a bool value from provider configuration.
// Missing keys default to false.
func (c *Config) GetProviderBool(provider, key string) bool {
	cfg, ok := c.providers[provider]
	if !ok {
		return false
	}
	val, ok := cfg[key]
	if !ok {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "1"
	case int, int64:
		return v != 0
	default:
		return false
	}
}

// ProviderEnabled reports whether a provider section enables the provider.
// Providers without a section, or without an enabled key, default to enabled.
func (c *Config) ProviderEnabled(provider string) bool {
	cfg, ok := c.providers[provider]
	if !ok {
		return true
	}
	if _, hasKey := cfg["enabled"]; !hasKey {
		return true
	}
	return c.GetProviderBool(provider, "enabled")
}

func loadINI(v *viper.Viper, path string) (*ini.File, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	for _, key := range cfg.Section("").Keys() {
		v.Set(key.Name(), key.Value())
	}

	return cfg, nil
}

func loadProviders(cfg *ini.File, c *Config) {
	const providerPrefix = "providers."

	for _, section := range cfg.Sections() {
		sectionName := section.Name()
		if sectionName == "" || sectionName == "DEFAULT" {
			continue
		}

		if strings.HasPrefix(sectionName, providerPrefix) {
			providerName := strings.TrimPrefix(sectionName, providerPrefix)
			providerCfg := make(ProviderConfig)

			for _, key := range section.Keys() {
				providerCfg[key.Name()] = key.Value()
			}

			c.providers[providerName] = providerCfg
		}
	}
}
