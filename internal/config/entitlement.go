package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EntitlementConfig carries operator-tunable entitlement policy.
type EntitlementConfig struct {
	// DefaultService is the service name stamped on blocking states the
	// engine writes on its own behalf (pause, resume, cancel, transfer).
	DefaultService string `mapstructure:"defaultService"`
	// AppendDuplicateStates appends a blocking state even when the new
	// directive matches the currently effective one. Off by default: a
	// second pause or a resume of an unpaused bundle is a no-op.
	AppendDuplicateStates bool `mapstructure:"appendDuplicateStates"`
}

func DefaultEntitlementConfig() EntitlementConfig {
	return EntitlementConfig{
		DefaultService:        "entitlement-service",
		AppendDuplicateStates: false,
	}
}

// EntitlementConfigHolder exposes the current policy and hot-reloads it
// when the config file changes.
type EntitlementConfigHolder struct {
	current atomic.Value // holds EntitlementConfig
}

func NewEntitlementConfigHolder() (*EntitlementConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("entitlement")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/entitle/config")
	v.AddConfigPath("/etc/entitle")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENTITLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEntitlementConfig()
	v.SetDefault("entitlement.defaultService", defaults.DefaultService)
	v.SetDefault("entitlement.appendDuplicateStates", defaults.AppendDuplicateStates)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg EntitlementConfig
	if err := v.UnmarshalKey("entitlement", &cfg); err != nil {
		return nil, err
	}
	if err := validateEntitlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EntitlementConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var next EntitlementConfig
		if err := v.UnmarshalKey("entitlement", &next); err != nil {
			log.Printf("entitlement config reload failed (%s): %v", e.Name, err)
			return
		}
		if err := validateEntitlementConfig(next); err != nil {
			log.Printf("entitlement config reload rejected (%s): %v", e.Name, err)
			return
		}
		holder.current.Store(next)
	})

	return holder, nil
}

// NewStaticEntitlementConfigHolder pins a fixed policy, for embedded use
// and tests.
func NewStaticEntitlementConfigHolder(cfg EntitlementConfig) *EntitlementConfigHolder {
	holder := &EntitlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// Current returns the active entitlement policy.
func (h *EntitlementConfigHolder) Current() EntitlementConfig {
	cfg, ok := h.current.Load().(EntitlementConfig)
	if !ok {
		return DefaultEntitlementConfig()
	}
	return cfg
}

func validateEntitlementConfig(cfg EntitlementConfig) error {
	if strings.TrimSpace(cfg.DefaultService) == "" {
		return errors.New("entitlement.defaultService must not be empty")
	}
	return nil
}
