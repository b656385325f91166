package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const defaultCreditCost int64 = 1

// ModelCreditCost is the per-unit credit cost of a model.
type ModelCreditCost struct {
	ID   string `mapstructure:"id"`
	Cost int64  `mapstructure:"cost"`
}

// CreditCostConfig is the credits section of credits.yml.
type CreditCostConfig struct {
	DefaultCost int64             `mapstructure:"defaultCost"`
	Models      []ModelCreditCost `mapstructure:"models"`
}

func DefaultCreditCostConfig() CreditCostConfig {
	return CreditCostConfig{
		DefaultCost: defaultCreditCost,
	}
}

// CostFor resolves the cost for modelID, falling back to DefaultCost.
func (c CreditCostConfig) CostFor(modelID string) int64 {
	key := strings.ToLower(strings.TrimSpace(modelID))
	for _, model := range c.Models {
		if strings.ToLower(strings.TrimSpace(model.ID)) == key && model.Cost > 0 {
			return model.Cost
		}
	}
	if c.DefaultCost > 0 {
		return c.DefaultCost
	}
	return defaultCreditCost
}

type CreditCostHolder struct {
	current atomic.Value // holds CreditCostConfig
}

// NewCreditCostHolder loads credits.yml from the standard search paths and watches it for changes.
func NewCreditCostHolder(log *zap.Logger) (*CreditCostHolder, error) {
	return LoadCreditCostHolder(log, "/var/lib/botledger/config", "/etc/botledger", ".")
}

// LoadCreditCostHolder loads credits.yml from the given paths.
func LoadCreditCostHolder(log *zap.Logger, paths ...string) (*CreditCostHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.credits")

	v := viper.New()
	v.SetConfigName("credits")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix("BOTLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
		defaults := DefaultCreditCostConfig()
		v.SetDefault("credits.defaultCost", defaults.DefaultCost)
	}

	var cfg CreditCostConfig
	if err := v.UnmarshalKey("credits", &cfg); err != nil {
		return nil, err
	}
	if err := validateCreditCostConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewCreditCostHolderWithConfig(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CreditCostConfig
		if err := v.UnmarshalKey("credits", &updated); err != nil {
			log.Warn("credit cost reload failed", zap.Error(err))
			return
		}
		if err := validateCreditCostConfig(updated); err != nil {
			log.Warn("invalid credit cost config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("credit costs reloaded", zap.String("file", e.Name), zap.Int("models", len(updated.Models)))
	})

	return holder, nil
}

// NewCreditCostHolderWithConfig returns a holder with a fixed config and no file watch.
func NewCreditCostHolderWithConfig(cfg CreditCostConfig) *CreditCostHolder {
	holder := &CreditCostHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *CreditCostHolder) Get() CreditCostConfig {
	if h == nil {
		return DefaultCreditCostConfig()
	}
	cfg, ok := h.current.Load().(CreditCostConfig)
	if !ok {
		return DefaultCreditCostConfig()
	}
	return cfg
}

func validateCreditCostConfig(cfg CreditCostConfig) error {
	if cfg.DefaultCost < 0 {
		return errors.New("credits.defaultCost cannot be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Models))
	for _, model := range cfg.Models {
		id := strings.ToLower(strings.TrimSpace(model.ID))
		if id == "" {
			return errors.New("credits.models[].id is required")
		}
		if model.Cost <= 0 {
			return fmt.Errorf("credits.models[%s].cost must be positive", id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("credits.models[%s] is duplicated", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
