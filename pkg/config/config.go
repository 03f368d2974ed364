package config

import (
	"context"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// FileName is the optional config file read from the working directory.
const FileName = "tool.toml"

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info" toml:"level" usage:"Log level (debug, info, warn or error)"`
		JSON  bool   `default:"false" toml:"json" usage:"Output JSON lines instead of pretty console messages"`
	} `toml:"log"`
	Project struct {
		Root  string `toml:"root" usage:"Project root, detected from Cargo.toml or .git if empty"`
		Tasks string `default:"tasks.star" toml:"tasks" usage:"Task file, relative to the project root"`
	} `toml:"project"`
	Package struct {
		Recipe      string `default:"PKGBUILD" toml:"recipe" usage:"Distribution recipe"`
		Dest        string `toml:"dest" usage:"Directory for built packages, defaults to the recipe's directory"`
		Compression string `default:"zst" toml:"compression" usage:"Package compression (zst, gz or xz)"`
	} `toml:"package"`
	Download struct {
		Timeout time.Duration `default:"30m" toml:"timeout" usage:"Timeout for downloading a single source"`
	} `toml:"download"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

var compressions = map[string]bool{
	"zst": true,
	"gz":  true,
	"xz":  true,
}

// Loader initializes an empty config object and returns a new Loader for this object. Without
// files, tool.toml is used.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{FileName}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:        "TOOL",
		SkipFlags:        true,
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the config from the given files (or tool.toml) and the environment and validates it.
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Errorf("invalid value for log.level: %s", cfg.Log.Level)
	}

	if !compressions[cfg.Package.Compression] {
		return eris.Errorf("invalid value for package.compression: %s (must be one of zst, gz or xz)", cfg.Package.Compression)
	}

	if cfg.Download.Timeout <= 0 {
		return eris.Errorf("invalid value for download.timeout: %s", cfg.Download.Timeout)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

type configKey struct{}

// WithConfig attaches cfg to the context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config attached to ctx or the defaults if there is none.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey{}).(*Config); ok {
		return cfg
	}

	cfg := &Config{}
	cfg.Log.Level = "info"
	cfg.Project.Tasks = "tasks.star"
	cfg.Package.Recipe = "PKGBUILD"
	cfg.Package.Compression = "zst"
	cfg.Download.Timeout = 30 * time.Minute
	return cfg
}
