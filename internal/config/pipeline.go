package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PipelineConfig holds the tunable rules of the tracker registration pipeline.
type PipelineConfig struct {
	MaxTrackersPerUser          int `mapstructure:"maxTrackersPerUser"`
	MaxBatchURLs                int `mapstructure:"maxBatchURLs"`
	NotificationBreakerFailures int `mapstructure:"notificationBreakerFailures"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxTrackersPerUser:          4,
		MaxBatchURLs:                4,
		NotificationBreakerFailures: 5,
	}
}

type PipelineConfigHolder struct {
	current atomic.Value // holds PipelineConfig
}

// NewStaticPipelineConfigHolder returns a holder that never reloads.
func NewStaticPipelineConfigHolder(cfg PipelineConfig) *PipelineConfigHolder {
	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPipelineConfigHolder() (*PipelineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pipeline")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/leaguetracker")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEAGUETRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPipelineConfig()
	v.SetDefault("pipeline.maxTrackersPerUser", defaults.MaxTrackersPerUser)
	v.SetDefault("pipeline.maxBatchURLs", defaults.MaxBatchURLs)
	v.SetDefault("pipeline.notificationBreakerFailures", defaults.NotificationBreakerFailures)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg PipelineConfig
	if err := v.UnmarshalKey("pipeline", &cfg); err != nil {
		return nil, err
	}
	if err := validatePipelineConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPipelineConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PipelineConfig
		if err := v.UnmarshalKey("pipeline", &updated); err != nil {
			log.Printf("[pipeline-config] reload failed: %v", err)
			return
		}
		if err := validatePipelineConfig(updated); err != nil {
			log.Printf("[pipeline-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pipeline-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PipelineConfigHolder) Get() PipelineConfig {
	if h == nil {
		return DefaultPipelineConfig()
	}
	return h.current.Load().(PipelineConfig)
}

func validatePipelineConfig(cfg PipelineConfig) error {
	if cfg.MaxTrackersPerUser <= 0 {
		return errors.New("pipeline.maxTrackersPerUser must be positive")
	}
	if cfg.MaxBatchURLs <= 0 {
		return errors.New("pipeline.maxBatchURLs must be positive")
	}
	if cfg.NotificationBreakerFailures <= 0 {
		return errors.New("pipeline.notificationBreakerFailures must be positive")
	}
	return nil
}
