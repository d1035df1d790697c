// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	GithubToken string `mapstructure:"GITHUB_TOKEN"`
	DatasetFile string `mapstructure:"DATASET_FILE"`
	WorkDir     string `mapstructure:"WORK_DIR"`

	// Optional relational sink. Empty disables it.
	DBURL string `mapstructure:"DB_URL"`

	// Collection.
	SearchQueries   []string      `mapstructure:"SEARCH_QUERIES"`
	TargetRapid     int           `mapstructure:"TARGET_RAPID"`
	TargetSlow      int           `mapstructure:"TARGET_SLOW"`
	MaxSearch       int           `mapstructure:"MAX_SEARCH"`
	MinStars        int           `mapstructure:"MIN_STARS"`
	MinForks        int           `mapstructure:"MIN_FORKS"`
	MinReleases     int           `mapstructure:"MIN_RELEASES"`
	MinContributors int           `mapstructure:"MIN_CONTRIBUTORS"`
	SearchPause     time.Duration `mapstructure:"SEARCH_PAUSE"`

	// Analysis.
	SonarHost     string        `mapstructure:"SONAR_HOST"`
	SonarToken    string        `mapstructure:"SONAR_TOKEN"`
	SonarImage    string        `mapstructure:"SONAR_IMAGE"`
	Workers       int           `mapstructure:"WORKERS"`
	CloneTimeout  time.Duration `mapstructure:"CLONE_TIMEOUT"`
	ScanTimeout   time.Duration `mapstructure:"SCAN_TIMEOUT"`
	PollInterval  time.Duration `mapstructure:"POLL_INTERVAL"`
	PollTimeout   time.Duration `mapstructure:"POLL_TIMEOUT"`
	MaxCloneBytes int64         `mapstructure:"MAX_CLONE_BYTES"`

	// Viewer API.
	ListenAddr string `mapstructure:"LISTEN_ADDR"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DATASET_FILE", "dataset.json")
	viper.SetDefault("WORK_DIR", "workdir")
	viper.SetDefault("TARGET_RAPID", 100)
	viper.SetDefault("TARGET_SLOW", 100)
	viper.SetDefault("MAX_SEARCH", 1000)
	viper.SetDefault("MIN_STARS", 50)
	viper.SetDefault("MIN_FORKS", 0)
	viper.SetDefault("MIN_RELEASES", 19)
	viper.SetDefault("MIN_CONTRIBUTORS", 19)
	viper.SetDefault("SEARCH_PAUSE", "2s")
	viper.SetDefault("SONAR_HOST", "http://localhost:9000")
	viper.SetDefault("SONAR_IMAGE", "sonarsource/sonar-scanner-cli")
	viper.SetDefault("WORKERS", 2)
	viper.SetDefault("CLONE_TIMEOUT", "10m")
	viper.SetDefault("SCAN_TIMEOUT", "30m")
	viper.SetDefault("POLL_INTERVAL", "10s")
	viper.SetDefault("POLL_TIMEOUT", "5m")
	viper.SetDefault("MAX_CLONE_BYTES", 2<<30)
	viper.SetDefault("LISTEN_ADDR", ":8080")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// RequireGithubToken validates the credential needed by collection runs.
// Missing credentials are the only configuration problem fatal to a run.
func (c *Config) RequireGithubToken() error {
	if c.GithubToken == "" {
		return errors.New("GITHUB_TOKEN is a required configuration field")
	}
	return nil
}

// RequireSonarToken validates the credential needed by analysis runs.
func (c *Config) RequireSonarToken() error {
	if c.SonarToken == "" {
		return errors.New("SONAR_TOKEN is a required configuration field")
	}
	return nil
}
