// Package config loads sectional's configuration through Viper from
// .sectional.yml, SECTIONAL_* environment variables and command-line flags.
//
// Load applies defaults for anything left unset and validates the result:
// template roots, cache settings, the prune schedule and server settings.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/conneroisu/sectional/internal/errors"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "SECTIONAL"

type Config struct {
	Templates TemplatesConfig `mapstructure:"templates" yaml:"templates" json:"templates"`
	Render    RenderConfig    `mapstructure:"render" yaml:"render" json:"render"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache" json:"cache"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log" json:"log"`
}

// TemplatesConfig locates template files. Empty sub-roots fall back to Root.
type TemplatesConfig struct {
	Root            string `mapstructure:"root" yaml:"root" json:"root"`
	IncludeRoot     string `mapstructure:"include_root" yaml:"include_root" json:"include_root"`
	SectionRoot     string `mapstructure:"section_root" yaml:"section_root" json:"section_root"`
	TemplateRoot    string `mapstructure:"template_root" yaml:"template_root" json:"template_root"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	Suffix          string `mapstructure:"suffix" yaml:"suffix" json:"suffix"`
	AllowExtensions bool   `mapstructure:"allow_extensions" yaml:"allow_extensions" json:"allow_extensions"`
}

type RenderConfig struct {
	MarkerClass     string `mapstructure:"marker_class" yaml:"marker_class" json:"marker_class"`
	MaxIncludeDepth int    `mapstructure:"max_include_depth" yaml:"max_include_depth" json:"max_include_depth"`
	DataFile        string `mapstructure:"data_file" yaml:"data_file" json:"data_file"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend" json:"backend"`
	Dir           string        `mapstructure:"dir" yaml:"dir" json:"dir"`
	DSN           string        `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	MaxSize       int64         `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	Compress      bool          `mapstructure:"compress" yaml:"compress" json:"compress"`
	PruneSchedule string        `mapstructure:"prune_schedule" yaml:"prune_schedule" json:"prune_schedule"`
}

type ServerConfig struct {
	Host       string `mapstructure:"host" yaml:"host" json:"host"`
	Port       int    `mapstructure:"port" yaml:"port" json:"port"`
	LiveReload bool   `mapstructure:"live_reload" yaml:"live_reload" json:"live_reload"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace" json:"namespace"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// Default values applied by Load.
const (
	DefaultRoot          = "."
	DefaultPrefix        = "_"
	DefaultSuffix        = "liquid"
	DefaultMarkerClass   = "section-marker"
	DefaultCacheBackend  = "memory"
	DefaultCacheDir      = ".sectional/cache"
	DefaultMaxSize       = 64 << 20
	DefaultPruneSchedule = "@every 10m"
	DefaultHost          = "localhost"
	DefaultPort          = 8080
	DefaultNamespace     = "sectional"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

var (
	cacheBackends = []string{"none", "memory", "disk", "sqlite"}
	logFormats    = []string{"text", "json"}
	logLevels     = []string{"debug", "info", "warn", "warning", "error"}
)

// Keys lists every configuration key.
var Keys = []string{
	"templates.root", "templates.include_root", "templates.section_root", "templates.template_root",
	"templates.prefix", "templates.suffix", "templates.allow_extensions",
	"render.marker_class", "render.max_include_depth", "render.data_file",
	"cache.backend", "cache.dir", "cache.dsn", "cache.max_size", "cache.ttl", "cache.compress",
	"cache.prune_schedule",
	"server.host", "server.port", "server.live_reload",
	"metrics.namespace",
	"log.level", "log.format",
}

// BindEnv makes every key overridable through SECTIONAL_<SECTION>_<KEY>,
// e.g. SECTIONAL_CACHE_BACKEND. Keys must be bound explicitly for
// Unmarshal to see them.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range Keys {
		if err := v.BindEnv(key); err != nil {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "binding environment").
				WithComponent(key).
				WithCause(err)
		}
	}
	return nil
}

// Load reads the global Viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals v, fills in defaults and validates the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "decoding configuration")
	}

	// Booleans default to true only when nobody set them.
	if !v.IsSet("server.live_reload") {
		cfg.Server.LiveReload = true
	}
	if !v.IsSet("cache.compress") {
		cfg.Cache.Compress = true
	}
	if !v.IsSet("server.port") {
		cfg.Server.Port = DefaultPort
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration Load produces with nothing set.
func Default() *Config {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Templates.Root == "" {
		cfg.Templates.Root = DefaultRoot
	}
	if cfg.Templates.Prefix == "" {
		cfg.Templates.Prefix = DefaultPrefix
	}
	if cfg.Templates.Suffix == "" {
		cfg.Templates.Suffix = DefaultSuffix
	}

	if cfg.Render.MarkerClass == "" {
		cfg.Render.MarkerClass = DefaultMarkerClass
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = DefaultCacheBackend
	}
	cfg.Cache.Backend = strings.ToLower(cfg.Cache.Backend)
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = DefaultCacheDir
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = DefaultMaxSize
	}
	if cfg.Cache.PruneSchedule == "" {
		cfg.Cache.PruneSchedule = DefaultPruneSchedule
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultNamespace
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
}

// validateConfig returns the first validation error, if any.
func validateConfig(cfg *Config) error {
	result := Validate(cfg)
	if !result.HasErrors() {
		return nil
	}
	first := result.Errors[0]
	return errors.NewConfigError(errors.ErrCodeConfigInvalid,
		fmt.Sprintf("invalid configuration: %s", first.Error())).
		WithComponent(first.Field).
		WithContext("errors", len(result.Errors))
}

// validatePath rejects empty paths, parent traversal and shell
// metacharacters.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	for _, segment := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains traversal: %s", path)
		}
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// cronParser accepts standard five-field specs and descriptors such as
// @every 10m.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a prune schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cronParser.Parse(spec)
}
