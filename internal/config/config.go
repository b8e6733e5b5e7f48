// Package config resolves bookwatch settings from defaults, an optional YAML
// file, a .env file, BOOKWATCH_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "BOOKWATCH"
	configName     = "bookwatch"
	defaultBackend = "http://localhost:8000"
)

// Keys shared with the command-line flags bound onto the same viper instance.
const (
	KeyBackendURL      = "backend_url"
	KeyAutoRefresh     = "auto_refresh"
	KeyRefreshInterval = "refresh_interval"
	KeyHealthInterval  = "health_interval"
	KeyRequestTimeout  = "request_timeout"
	KeyDataDir         = "data_dir"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeyLogFile         = "log.file"
)

type LogSettings struct {
	Level  string `validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `validate:"oneof=text json"`
	File   string
}

type Settings struct {
	BackendURL      string `validate:"required,url"`
	AutoRefresh     bool
	RefreshInterval time.Duration
	HealthInterval  time.Duration `validate:"gt=0"`
	RequestTimeout  time.Duration `validate:"gte=0"`
	DataDir         string        `validate:"required"`
	Log             LogSettings
	// ConfigFile is the file settings were read from, empty when none was found.
	ConfigFile string
}

// Loader owns one viper instance so flags, reloads and watches all see the
// same layered view.
type Loader struct {
	v       *viper.Viper
	path    string
	envFile string

	mu       sync.Mutex
	settings Settings
}

func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetDefault(KeyBackendURL, defaultBackend)
	v.SetDefault(KeyAutoRefresh, false)
	v.SetDefault(KeyRefreshInterval, "10s")
	v.SetDefault(KeyHealthInterval, "5s")
	v.SetDefault(KeyRequestTimeout, "0s")
	v.SetDefault(KeyDataDir, "./bookwatch-data")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyLogFile, "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, path: strings.TrimSpace(configPath), envFile: ".env"}
}

// Viper exposes the instance so callers can bind flags onto it.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// SetEnvFile points the loader at a different .env file.
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

func (l *Loader) Load() (Settings, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("load %s: %w", l.envFile, err)
		}
	}

	if l.path != "" {
		l.v.SetConfigFile(l.path)
	} else {
		l.v.SetConfigName(configName)
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("$HOME/.bookwatch")
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.build()
}

// Current returns the settings of the last successful load.
func (l *Loader) Current() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settings
}

// Watch reloads on config file changes. It does nothing when no file is in use.
func (l *Loader) Watch(onChange func(Settings), onError func(error)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		settings, err := l.build()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onChange != nil {
			onChange(settings)
		}
	})
	l.v.WatchConfig()
	return true
}

func (l *Loader) build() (Settings, error) {
	refresh, err := durationValue(l.v, KeyRefreshInterval)
	if err != nil {
		return Settings{}, err
	}
	health, err := durationValue(l.v, KeyHealthInterval)
	if err != nil {
		return Settings{}, err
	}
	timeout, err := durationValue(l.v, KeyRequestTimeout)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		BackendURL:      strings.TrimRight(strings.TrimSpace(l.v.GetString(KeyBackendURL)), "/"),
		AutoRefresh:     l.v.GetBool(KeyAutoRefresh),
		RefreshInterval: SnapInterval(refresh),
		HealthInterval:  health,
		RequestTimeout:  timeout,
		DataDir:         strings.TrimSpace(l.v.GetString(KeyDataDir)),
		Log: LogSettings{
			Level:  strings.ToLower(strings.TrimSpace(l.v.GetString(KeyLogLevel))),
			Format: strings.ToLower(strings.TrimSpace(l.v.GetString(KeyLogFormat))),
			File:   strings.TrimSpace(l.v.GetString(KeyLogFile)),
		},
		ConfigFile: l.v.ConfigFileUsed(),
	}
	if err := validateSettings(settings); err != nil {
		return Settings{}, err
	}

	l.mu.Lock()
	l.settings = settings
	l.mu.Unlock()
	return settings, nil
}

// durationValue accepts Go duration strings; bare numbers are seconds.
func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	switch raw := v.Get(key).(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return raw, nil
	case int:
		return time.Duration(raw) * time.Second, nil
	case int64:
		return time.Duration(raw) * time.Second, nil
	case float64:
		return time.Duration(raw * float64(time.Second)), nil
	case string:
		text := strings.TrimSpace(raw)
		if text == "" {
			return 0, nil
		}
		if seconds, err := strconv.ParseFloat(text, 64); err == nil {
			return time.Duration(seconds * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(text)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, text, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("invalid %s: unsupported value %v", key, raw)
	}
}

var validate = validator.New()

func validateSettings(settings Settings) error {
	err := validate.Struct(settings)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	parts := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
}
