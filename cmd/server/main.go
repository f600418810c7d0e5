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

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-session-authority/auth"
	"github.com/jrsteele09/go-session-authority/identity"
	"github.com/jrsteele09/go-session-authority/internal/config"
	"github.com/jrsteele09/go-session-authority/internal/metrics"
	"github.com/jrsteele09/go-session-authority/server"
	"github.com/jrsteele09/go-session-authority/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var (
	portFlag       string
	identitiesFlag string
)

var rootCmd = &cobra.Command{
	Use:   "session-authority",
	Short: "Two-factor login and session authority",
	Long: `Issues handshake tokens after a password check and session tokens after a
second-factor check. Sessions live in memory and expire after a configured time.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&portFlag, "port", "p", "", "listen address, overrides PORT")
	rootCmd.Flags().StringVar(&identitiesFlag, "identities", "", "TOML identities file, overrides IDENTITIES_FILE")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		log.Err(err).Msg("Invalid configuration")
		return err
	}
	setupLogger(c.GetEnv())
	displayAppname(c.GetAppName())

	identities, err := loadIdentities(c)
	if err != nil {
		log.Err(err).Msg("Failed to load identities")
		return err
	}

	generator, err := token.NewRandomGenerator(c.GetTokenBytes())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("metrics.New: %w", err)
	}

	authority, err := auth.NewAuthority(identities, generator, c,
		auth.WithLogger(log.Logger),
		auth.WithObserver(recorder),
		auth.WithMaxSecondFactorAttempts(c.GetMaxSecondFactorAttempts()),
	)
	if err != nil {
		return err
	}
	if err := metrics.RegisterSessionGauges(registry, authority.Stats); err != nil {
		return fmt.Errorf("metrics.RegisterSessionGauges: %w", err)
	}

	handler, err := server.New(c, c, authority,
		server.WithLogger(log.Logger),
		server.WithRequestRecorder(recorder),
		server.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if interval := c.GetReaperInterval(); interval > 0 {
		go authority.RunReaper(ctx, interval)
	}

	httpServer := &http.Server{
		Addr:              listenAddr(c),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(httpServer) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	cancel()
	return shutdown(httpServer)
}

func setupLogger(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func loadIdentities(c config.EnvConfig) (*identity.MemoryStore, error) {
	path := c.GetIdentitiesFile()
	if identitiesFlag != "" {
		path = identitiesFlag
	}
	if path == "" {
		log.Warn().Msg("No identities file configured, using the sample principals")
		return identity.FromRegistrations(identity.SampleRegistrations(), bcrypt.DefaultCost)
	}

	store, err := identity.LoadFile(path, bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	log.Info().Str("file", path).Int("principals", store.Len()).Msg("Identities loaded")
	return store, nil
}

func listenAddr(c config.EnvConfig) string {
	if portFlag == "" {
		return c.GetPort()
	}
	if portFlag[0] != ':' {
		return ":" + portFlag
	}
	return portFlag
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
