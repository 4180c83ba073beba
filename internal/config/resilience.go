package config

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ResilienceConfig tunes the retry and circuit breaker layer for outbound
// collaborator calls. It is loaded from resilience.yml and hot-reloadable.
type ResilienceConfig struct {
	MaxAttempts      uint          `mapstructure:"maxAttempts"`
	InitialInterval  time.Duration `mapstructure:"initialInterval"`
	MaxInterval      time.Duration `mapstructure:"maxInterval"`
	FailureThreshold uint32        `mapstructure:"failureThreshold"`
	SuccessThreshold uint32        `mapstructure:"successThreshold"`
	ResetTimeout     time.Duration `mapstructure:"resetTimeout"`
}

func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxAttempts:      3,
		InitialInterval:  200 * time.Millisecond,
		MaxInterval:      5 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

type ResilienceConfigHolder struct {
	current atomic.Value // holds ResilienceConfig
}

func NewResilienceConfigHolder() (*ResilienceConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("resilience")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/payrail/config") // Volume-mounted config
	v.AddConfigPath("/etc/payrail")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("PAYRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultResilienceConfig()
	v.SetDefault("resilience.maxAttempts", defaults.MaxAttempts)
	v.SetDefault("resilience.initialInterval", defaults.InitialInterval)
	v.SetDefault("resilience.maxInterval", defaults.MaxInterval)
	v.SetDefault("resilience.failureThreshold", defaults.FailureThreshold)
	v.SetDefault("resilience.successThreshold", defaults.SuccessThreshold)
	v.SetDefault("resilience.resetTimeout", defaults.ResetTimeout)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	holder := &ResilienceConfigHolder{}
	cfg, err := unmarshalResilience(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.OnConfigChange(func(fsnotify.Event) {
		next, err := unmarshalResilience(v)
		if err != nil {
			return
		}
		holder.current.Store(next)
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticResilienceConfigHolder returns a holder pinned to cfg, without
// file watching. Used by tests and embedded setups.
func NewStaticResilienceConfigHolder(cfg ResilienceConfig) *ResilienceConfigHolder {
	holder := &ResilienceConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func unmarshalResilience(v *viper.Viper) (ResilienceConfig, error) {
	var cfg ResilienceConfig
	if err := v.UnmarshalKey("resilience", &cfg); err != nil {
		return ResilienceConfig{}, err
	}
	defaults := DefaultResilienceConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaults.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaults.MaxInterval
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaults.ResetTimeout
	}
	return cfg, nil
}

func (h *ResilienceConfigHolder) Get() ResilienceConfig {
	if h == nil {
		return DefaultResilienceConfig()
	}
	value, ok := h.current.Load().(ResilienceConfig)
	if !ok {
		return DefaultResilienceConfig()
	}
	return value
}
