package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	overrides map[string]any
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		overrides: make(map[string]any),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load(cm.overrides)
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	for _, entry := range DefaultEntries() {
		cm.v.SetDefault(entry.Key, entry.Value)
	}

	// Environment variables with FOLIO_ prefix, e.g. FOLIO_VIEWER_BUFFER_PAGES
	cm.v.SetEnvPrefix("FOLIO")
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.folio")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state plus runtime overrides into a
// validated Config.
func (cm *Manager) load(overrides map[string]any) (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(overrides) > 0 {
		o := viper.New()
		for key, value := range overrides {
			o.Set(key, value)
		}
		if err := o.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the config file in use, or "" when running on
// defaults.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. A file that fails
// to parse or validate leaves the previous config in place.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cm.mu.Lock()
		cfg, err := cm.load(cm.overrides)
		if err != nil {
			cm.mu.Unlock()
			return
		}
		cm.config = cfg
		callbacks := cm.callbacksLocked()
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// value returns the effective value of key.
func (cm *Manager) value(key string) any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if value, ok := cm.overrides[key]; ok {
		return value
	}
	return cm.v.Get(key)
}

// setOverride applies a runtime override, or removes it when value is nil.
// The change is rejected if the resulting config does not validate.
func (cm *Manager) setOverride(key string, value any) error {
	cm.mu.Lock()
	next := make(map[string]any, len(cm.overrides)+1)
	for k, v := range cm.overrides {
		next[k] = v
	}
	if value == nil {
		delete(next, key)
	} else {
		next[key] = value
	}

	cfg, err := cm.load(next)
	if err != nil {
		cm.mu.Unlock()
		return err
	}
	cm.overrides = next
	cm.config = cfg
	callbacks := cm.callbacksLocked()
	cm.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

func (cm *Manager) callbacksLocked() []func(*Config) {
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	return callbacks
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# folio configuration
# Every key can be overridden with a FOLIO_ environment variable,
# e.g. FOLIO_VIEWER_BUFFER_PAGES=3 or FOLIO_RENDER_BACKEND=fitz

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
