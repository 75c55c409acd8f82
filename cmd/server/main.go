package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-keycloak-sso/auth"
	"github.com/jrsteele09/go-keycloak-sso/internal/config"
	"github.com/jrsteele09/go-keycloak-sso/internal/metrics"
	"github.com/jrsteele09/go-keycloak-sso/keycloak"
	"github.com/jrsteele09/go-keycloak-sso/server"
	"github.com/jrsteele09/go-keycloak-sso/server/authflowrepo"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var CLI struct {
	EnvFile string `name:"env-file" default:".env" help:"Path to a .env file, loaded when present"`
	Port    string `name:"port" help:"Port to listen on (overrides PORT)"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("keycloak-sso"),
		kong.Description("Keycloak single sign-on for web applications"),
	)
	if CLI.Port != "" {
		os.Setenv("PORT", CLI.Port)
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic: %v", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load(CLI.EnvFile)
	if err != nil {
		return err
	}
	setupLogging(c)
	displayAppname(c.GetAppName())

	client, err := keycloak.NewClient(keycloak.ConfigFrom(c))
	if err != nil {
		return err
	}

	sessions, closeSessions, err := sessionRepo(c)
	if err != nil {
		return err
	}
	defer closeSessions()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	handshake := auth.NewHandshake(client, client.ProviderID(), c.GetBaseURL(), m)
	callbacks, err := auth.NewKeycloakCallbacks(session.NewRefresher(client), handshake, c.GetBaseURL(), auth.WithMetrics(m))
	if err != nil {
		return err
	}

	handler, err := server.New(c, client, callbacks, sessions, authflowrepo.NewInMemoryRepo(), server.WithMetrics(m, reg))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(srv) }()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

// sessionRepo picks redis when REDIS_URL is set, otherwise the in-memory store.
func sessionRepo(c config.Config) (session.Repo, func(), error) {
	if c.GetRedisURL() == "" {
		log.Warn().Msg("REDIS_URL not set, sessions are kept in memory")
		return session.NewInMemoryRepo(), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repo, err := session.NewRedisRepoFromURL(ctx, c.GetRedisURL())
	if err != nil {
		return nil, nil, err
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			log.Err(err).Msg("Failed to close redis session store")
		}
	}, nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if config.IsDevelopment(c) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
