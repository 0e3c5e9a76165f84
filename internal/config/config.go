// Package config loads server settings from flags, SYNCKEEPER_* environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/service"
	"github.com/and161185/sync-keeper/internal/syncstore"
)

// EnvPrefix prefixes every environment variable, e.g. SYNCKEEPER_JWT_KEY.
const EnvPrefix = "SYNCKEEPER"

// Backend kinds selected by the store setting.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// PermanentItem is one row of a configured permanent item table.
type PermanentItem struct {
	Tag    string `mapstructure:"tag" yaml:"tag"`
	Parent string `mapstructure:"parent" yaml:"parent"`
	Type   string `mapstructure:"type" yaml:"type"`
	Name   string `mapstructure:"name" yaml:"name"`
}

// Config is the full server configuration.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	Store       string        `mapstructure:"store"`
	JWTKey      string        `mapstructure:"jwt_key"`
	AccessTTL   time.Duration `mapstructure:"access_ttl"`
	MaxBatch    int           `mapstructure:"max_batch"`
	BatchSize   int           `mapstructure:"batch_size"`
	PositionGap int64         `mapstructure:"position_gap"`
	MaxRecvMB   int           `mapstructure:"max_recv_mb"`
	TLSCert     string        `mapstructure:"tls_cert"`
	TLSKey      string        `mapstructure:"tls_key"`
	Dev         bool          `mapstructure:"dev"`

	Log            LogConfig       `mapstructure:"log"`
	PermanentItems []PermanentItem `mapstructure:"permanent_items"`
}

// BindFlags registers the server flags with their defaults.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("addr", ":8443", "listen address")
	fs.String("store", "", "entry store: empty for memory, postgres://... or sqlite:<path>")
	fs.String("jwt-key", "", "HS256 signing key (required)")
	fs.Duration("access-ttl", 15*time.Minute, "access token TTL")
	fs.Int("max-batch", service.DefaultMaxBatch, "max commit batch size")
	fs.Int("batch-size", syncstore.DefaultBatchSize, "max entries per GetUpdates page")
	fs.Int64("position-gap", syncstore.DefaultPositionGap, "sibling position spacing")
	fs.Int("max-recv-mb", 4, "max request size in MiB")
	fs.String("tls-cert", "", "TLS certificate (PEM); empty serves plaintext")
	fs.String("tls-key", "", "TLS private key (PEM)")
	fs.Bool("dev", false, "enable server reflection (dev only)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-file", "", "also write logs to this rotating file")
}

// Load merges flags, environment and the optional file (explicit path wins
// over ./synckeeper.yaml). The returned viper instance can be watched.
func Load(fs *pflag.FlagSet, file string) (*viper.Viper, Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		// flag names use dashes, keys underscores
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(flagKey(f.Name), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, Config{}, bindErr
		}
	}
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("synckeeper")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, Config{}, err
	}
	return v, cfg, nil
}

func flagKey(name string) string {
	key := strings.ReplaceAll(name, "-", "_")
	if rest, ok := strings.CutPrefix(key, "log_"); ok {
		return "log." + rest
	}
	return key
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Watch re-reads the config file on change and hands the new settings to
// onChange. Decode failures go to onError and keep the previous settings.
func Watch(v *viper.Viper, onChange func(Config), onError func(error)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	if c.JWTKey == "" {
		return fmt.Errorf("missing jwt signing key (--jwt-key or %s_JWT_KEY): %w", EnvPrefix, errs.ErrInvalidArgument)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together: %w", errs.ErrInvalidArgument)
	}
	if _, _, err := c.Backend(); err != nil {
		return err
	}
	_, err := c.StoreConfig()
	return err
}

// Backend parses the store setting into a backend kind and its target
// (DSN or file path).
func (c Config) Backend() (kind, target string, err error) {
	s := strings.TrimSpace(c.Store)
	switch {
	case s == "" || s == BackendMemory:
		return BackendMemory, "", nil
	case strings.HasPrefix(s, "postgres://"), strings.HasPrefix(s, "postgresql://"):
		return BackendPostgres, s, nil
	case strings.HasPrefix(s, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(s, "sqlite:"), "//")
		if path == "" {
			return "", "", fmt.Errorf("store %q: empty sqlite path: %w", s, errs.ErrInvalidArgument)
		}
		return BackendSQLite, path, nil
	default:
		return "", "", fmt.Errorf("store %q: unknown backend: %w", s, errs.ErrInvalidArgument)
	}
}

// StoreConfig builds the entry store configuration. An empty permanent item
// table keeps the built-in one.
func (c Config) StoreConfig() (syncstore.Config, error) {
	sc := syncstore.DefaultConfig()
	if c.BatchSize > 0 {
		sc.BatchSize = c.BatchSize
	}
	if c.PositionGap != 0 {
		sc.PositionGap = c.PositionGap
	}
	if len(c.PermanentItems) > 0 {
		specs := make([]syncstore.PermanentItemSpec, 0, len(c.PermanentItems))
		for i, it := range c.PermanentItems {
			t, err := model.ParseSyncType(it.Type)
			if err != nil {
				return syncstore.Config{}, fmt.Errorf("permanent_items[%d]: %w", i, err)
			}
			// empty parent: the root itself, or a child of the root
			parent := it.Parent
			switch {
			case parent != "":
			case i == 0:
				parent = syncstore.RootParentTag
			default:
				parent = specs[0].Tag
			}
			specs = append(specs, syncstore.PermanentItemSpec{Tag: it.Tag, ParentTag: parent, SyncType: t, Name: it.Name})
		}
		if err := syncstore.ValidatePermanentItems(specs); err != nil {
			return syncstore.Config{}, err
		}
		sc.PermanentItems = specs
	}
	if sc.PositionGap < 2 {
		return syncstore.Config{}, fmt.Errorf("position_gap %d: %w", sc.PositionGap, errs.ErrInvalidArgument)
	}
	return sc, nil
}
