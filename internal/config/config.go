package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Logger   Logger   `mapstructure:"logger"`
	Database Database `mapstructure:"database"`
	Gemini   Gemini   `mapstructure:"gemini"`
	Storage  Storage  `mapstructure:"storage"`
	Imaging  Imaging  `mapstructure:"imaging"`
	Profile  Profile  `mapstructure:"profile"`
	Tracing  Tracing  `mapstructure:"tracing"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxUploadBytes bounds multipart and JSON request bodies.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Gemini holds the configuration for the generative AI gateway.
type Gemini struct {
	ApiKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// Storage holds the configuration for stored screenshots and avatars.
type Storage struct {
	Root          string `mapstructure:"root"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// Imaging holds the parameters of the upload normalizer.
type Imaging struct {
	MaxDimension int `mapstructure:"max_dimension"`
	Quality      int `mapstructure:"quality"`
	MaxPixels    int `mapstructure:"max_pixels"`
}

// Profile holds the configuration for profile workflows.
type Profile struct {
	UsernameDebounce time.Duration `mapstructure:"username_debounce"`
}

// Tracing toggles the stdout span exporter.
type Tracing struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment apply.
func LoadConfig(path string) (config Config, err error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file, e.g. GEMINI_API_KEY
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("database.dsn", "journal.db")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.temperature", 0.3)
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.timeout", 45*time.Second)
	v.SetDefault("gemini.rate_limit", 2)       // requests per second
	v.SetDefault("gemini.rate_limit_burst", 2) // burst size
	v.SetDefault("gemini.max_attempts", 1)

	v.SetDefault("storage.root", "data/storage")
	v.SetDefault("storage.public_base_url", "/media")

	v.SetDefault("imaging.max_dimension", 1024)
	v.SetDefault("imaging.quality", 85)
	v.SetDefault("imaging.max_pixels", 50_000_000)

	v.SetDefault("profile.username_debounce", 500*time.Millisecond)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "trade-journal")
}
