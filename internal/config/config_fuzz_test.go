package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/conneroisu/sectional/internal/errors"
)

// FuzzLoadConfig feeds arbitrary YAML through Load and checks that failures
// are configuration errors and successes are fully defaulted.
func FuzzLoadConfig(f *testing.F) {
	f.Add(`templates:
  root: .
cache:
  backend: disk
  dir: .cache`)
	f.Add(`server:
  port: "invalid_port"`)
	f.Add(`server:
  port: 65536`)
	f.Add(`cache:
  ttl: -5s
  prune_schedule: "@every 1m"`)
	f.Add(`templates:
  root: ../../etc`)
	f.Add(`malformed: yaml: content`)
	f.Add(``)

	f.Fuzz(func(t *testing.T, content string) {
		if len(content) > 50000 {
			t.Skip("config content too large")
		}

		path := filepath.Join(t.TempDir(), ".sectional.yml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Skip("could not write config file")
		}

		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return
		}

		cfg, err := LoadFrom(v)
		if err != nil {
			var te *errors.TemplateError
			if !errors.As(err, &te) || te.Type != errors.ErrorTypeConfig {
				t.Fatalf("expected a config error, got %v", err)
			}
			return
		}

		if cfg.Templates.Root == "" || cfg.Cache.Backend == "" || cfg.Log.Format == "" {
			t.Fatalf("defaults not applied: %+v", cfg)
		}
		if validatePath(cfg.Templates.Root) != nil {
			t.Fatalf("accepted unsafe root %q", cfg.Templates.Root)
		}
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			t.Fatalf("accepted port %d", cfg.Server.Port)
		}
	})
}
