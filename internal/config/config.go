// Package config loads and hot-reloads the YAML configuration describing
// which credentials this client authenticates, how their derived secrets
// are cached, and how the self-check loop exercises the engine.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/dbbouncer/scramclient/internal/scram"
)

// Config is the top-level configuration.
type Config struct {
	API         APIConfig             `yaml:"api"`
	Cache       CachePolicy           `yaml:"cache"`
	SelfCheck   SelfCheckConfig       `yaml:"self_check"`
	Credentials map[string]Credential `yaml:"credentials"`
}

// APIConfig governs the operational HTTP surface (§4.10).
type APIConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// CachePolicy governs the shared secret Store every configured credential
// shares.
type CachePolicy struct {
	MaxEntries    int           `yaml:"max_entries"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SelfCheckConfig governs the background loopback-handshake health check.
type SelfCheckConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// Credential is one named SCRAM identity this client can authenticate as.
type Credential struct {
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Mechanism string `yaml:"mechanism"` // "SCRAM-SHA-1" or "SCRAM-SHA-256"
	Database  string `yaml:"database"`
}

// ScramMechanism parses Mechanism into the scram package's enum, defaulting
// to SCRAM-SHA-256 when unset.
func (c Credential) ScramMechanism() (scram.Mechanism, error) {
	switch c.Mechanism {
	case "", "SCRAM-SHA-256":
		return scram.SHA256, nil
	case "SCRAM-SHA-1":
		return scram.SHA1, nil
	default:
		return 0, fmt.Errorf("unknown mechanism %q", c.Mechanism)
	}
}

// Redacted returns a copy of the Credential with the password masked, safe
// to log or serve over the API.
func (c Credential) Redacted() Credential {
	r := c
	if r.Password != "" {
		r.Password = "***REDACTED***"
	}
	return r
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable
// values, leaving the placeholder untouched when the variable is unset.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 9090
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1024
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 30 * time.Minute
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = time.Minute
	}
	if cfg.SelfCheck.Interval == 0 {
		cfg.SelfCheck.Interval = 30 * time.Second
	}
	if cfg.SelfCheck.FailureThreshold == 0 {
		cfg.SelfCheck.FailureThreshold = 3
	}
}

func validate(cfg *Config) error {
	for name, cred := range cfg.Credentials {
		if cred.User == "" {
			return fmt.Errorf("credential %q: user is required", name)
		}
		if _, err := cred.ScramMechanism(); err != nil {
			return fmt.Errorf("credential %q: %w", name, err)
		}
	}
	if cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries cannot be negative")
	}
	if cfg.SelfCheck.FailureThreshold < 0 {
		return fmt.Errorf("self_check.failure_threshold cannot be negative")
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the
// newly loaded config, debounced so a burst of filesystem events only
// triggers one reload.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
