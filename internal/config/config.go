package config

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// Persistence backend selectors.
const (
	BackendFile   = "file"
	BackendGist   = "gist"
	BackendSQLite = "sqlite"
)

const (
	envPrefix           = "SKRIBO"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultBackend      = BackendFile
	defaultFilePath     = "skribo.json"
	defaultDatabasePath = "skribo.db"
	defaultGistAPIURL   = "https://api.github.com"
	defaultGistFilename = "skribo.json"
	defaultLogLevel     = "info"
	defaultTokenTTLMin  = 720
	defaultHistoryLimit = 50
	defaultNotesLimit   = 500
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	Backend      string
	FilePath     string
	DatabasePath string
	GistAPIURL   string
	GistToken    string
	GistID       string
	GistFilename string

	// SigningSecret enables multi-account mode; when empty the service runs
	// single-user against the default account with no authentication.
	SigningSecret string
	TokenTTL      time.Duration

	HistoryLimit int
	NotesLimit   int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("persistence.backend", defaultBackend)
	configViper.SetDefault("persistence.path", defaultFilePath)
	configViper.SetDefault("persistence.database_path", defaultDatabasePath)
	configViper.SetDefault("gist.api_url", defaultGistAPIURL)
	configViper.SetDefault("gist.filename", defaultGistFilename)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("limits.history", defaultHistoryLimit)
	configViper.SetDefault("limits.notes", defaultNotesLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		LogLevel:      configViper.GetString("log.level"),
		Backend:       strings.ToLower(strings.TrimSpace(configViper.GetString("persistence.backend"))),
		FilePath:      configViper.GetString("persistence.path"),
		DatabasePath:  configViper.GetString("persistence.database_path"),
		GistAPIURL:    configViper.GetString("gist.api_url"),
		GistToken:     configViper.GetString("gist.token"),
		GistID:        configViper.GetString("gist.id"),
		GistFilename:  configViper.GetString("gist.filename"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		HistoryLimit:  configViper.GetInt("limits.history"),
		NotesLimit:    configViper.GetInt("limits.notes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	err := validation.Errors{
		"http.address":        validation.Validate(c.HTTPAddress, validation.Required),
		"persistence.backend": validation.Validate(c.Backend, validation.Required, validation.In(BackendFile, BackendGist, BackendSQLite)),
		"limits.history":      validation.Validate(c.HistoryLimit, validation.Min(1)),
		"limits.notes":        validation.Validate(c.NotesLimit, validation.Min(1)),
	}.Filter()
	if err != nil {
		return err
	}

	switch c.Backend {
	case BackendFile:
		return validation.Errors{
			"persistence.path": validation.Validate(c.FilePath, validation.Required),
		}.Filter()
	case BackendSQLite:
		return validation.Errors{
			"persistence.database_path": validation.Validate(c.DatabasePath, validation.Required),
		}.Filter()
	case BackendGist:
		return validation.Errors{
			"gist.token":    validation.Validate(c.GistToken, validation.Required),
			"gist.id":       validation.Validate(c.GistID, validation.Required),
			"gist.filename": validation.Validate(c.GistFilename, validation.Required),
		}.Filter()
	}
	return nil
}

// MultiAccount reports whether account registration and JWT sessions are enabled.
func (c AppConfig) MultiAccount() bool {
	return strings.TrimSpace(c.SigningSecret) != ""
}
