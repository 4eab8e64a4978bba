// Package config loads the server's runtime configuration from environment
// variables, with optional .env file support for local development.
package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable the chat server reads from the environment.
type Config struct {
	// Port the process serves static assets and the WebSocket channel on.
	Port int `envconfig:"PORT" default:"3000"`

	// StaticDir is the directory of browser assets served at /.
	StaticDir string `envconfig:"STATIC_DIR" default:"public"`

	// GitHub contents API settings for the persisted chat log.
	GitHubToken    string `envconfig:"GITHUB_TOKEN"`
	GitHubRepo     string `envconfig:"GITHUB_REPO" default:"M1noa/simple-chat"`
	GitHubFilePath string `envconfig:"GITHUB_FILE_PATH" default:"chat.json"`
	GitHubAPIURL   string `envconfig:"GITHUB_API_URL" default:"https://api.github.com"`

	// NATSURL enables the cross-instance relay when non-empty.
	NATSURL string `envconfig:"NATS_URL"`

	// ServerName identifies this instance in relayed events and logs.
	ServerName string `envconfig:"SERVER_NAME"`

	// WebSocket server tuning.
	WorkerPoolSize int    `envconfig:"WORKER_POOL_SIZE" default:"256"`
	MaxConnections int    `envconfig:"MAX_CONNECTIONS" default:"100000"`
	ReadTimeout    string `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   string `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first if present; real environment variables
// win over .env entries.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
