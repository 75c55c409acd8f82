package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	portEnvVar        = "PORT"
	appNameVar        = "APP_NAME"
	envVar            = "ENV"
	logLevelVar       = "LOG_LEVEL"
	baseURLVar        = "PUBLIC_URL"
	legacyBaseURLVar  = "NEXT_PUBLIC_URL"
	redisURLVar       = "REDIS_URL"
	defaultAppName    = "Keycloak SSO"
	defaultPort       = "3000"
	defaultLogLevel   = "info"
	developmentEnvVal = "DEV"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, defaultPort)
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, defaultAppName)
}

func (EnvVars) GetEnv() string {
	return GetEnv(envVar, developmentEnvVal)
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, defaultLogLevel)
}

// GetBaseURL returns the application's public base URL (e.g. "https://app.example.com"),
// without a trailing slash. It is the only origin redirects may target.
func (EnvVars) GetBaseURL() string {
	return strings.TrimRight(GetEnv(baseURLVar, os.Getenv(legacyBaseURLVar)), "/")
}

// GetRedisURL returns the optional redis connection URL for the session store.
// When empty an in-memory store is used.
func (EnvVars) GetRedisURL() string {
	return GetEnv(redisURLVar, "")
}

// IsDevelopment reports whether ENV is the development environment.
func IsDevelopment(c EnvConfig) bool {
	return c.GetEnv() == developmentEnvVal
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
