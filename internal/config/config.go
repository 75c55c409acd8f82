package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	KeycloakConfig
	CorsConfig
	OAuthConfig
	SecurityConfig
	Validate() error
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetBaseURL() string
	GetRedisURL() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Keycloak
	Cors
	OAuth
	Security
}

func New() Config {
	return mainConfig{}
}

// Load reads an optional .env file into the process environment and returns
// a validated Config. Variables already present in the environment win over
// the file. A missing file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("[config Load] unable to read %s: %w", envFile, err)
		}
	}
	c := New()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
