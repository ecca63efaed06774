package reportlog

import (
	"github.com/creasty/defaults"

	"github.com/kilianp07/flexsim/core/factory"
)

var storeRegistry = factory.NewRegistry[Store]()

// JSONLConfig configures the plain and rotating JSONL stores.
type JSONLConfig struct {
	Path       string `json:"path" default:"reports/flex.jsonl"`
	Compress   bool   `json:"compress"`
	MaxSizeMB  int    `json:"max_size_mb" default:"10"`
	MaxBackups int    `json:"max_backups" default:"5"`
	MaxAgeDays int    `json:"max_age_days" default:"30"`
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	Path string `json:"path" default:"reports/flex.db"`
}

func init() {
	_ = RegisterStore("memory", func(map[string]any) (Store, error) {
		return NewMemoryStore(), nil
	})
	_ = RegisterStore("jsonl", func(raw map[string]any) (Store, error) {
		var c JSONLConfig
		if err := decode(raw, &c); err != nil {
			return nil, err
		}
		return NewJSONLStore(c.Path, c.Compress)
	})
	_ = RegisterStore("jsonl_rotating", func(raw map[string]any) (Store, error) {
		var c JSONLConfig
		if err := decode(raw, &c); err != nil {
			return nil, err
		}
		return NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	})
	_ = RegisterStore("sqlite", func(raw map[string]any) (Store, error) {
		var c SQLiteConfig
		if err := decode(raw, &c); err != nil {
			return nil, err
		}
		return NewSQLiteStore(c.Path)
	})
	_ = RegisterStore("redis", func(raw map[string]any) (Store, error) {
		var c RedisConfig
		if err := decode(raw, &c); err != nil {
			return nil, err
		}
		return NewRedisStore(c)
	})
}

func decode(raw map[string]any, out any) error {
	if err := defaults.Set(out); err != nil {
		return err
	}
	return factory.Decode(raw, out)
}

// RegisterStore adds a store factory identified by name.
func RegisterStore(name string, f factory.Factory[Store]) error {
	return storeRegistry.Register(name, f)
}

// NewStore creates a Store from cfg. An empty type yields a MemoryStore.
func NewStore(cfg factory.ModuleConfig) (Store, error) {
	if cfg.Type == "" {
		return NewMemoryStore(), nil
	}
	return storeRegistry.Create(cfg)
}
