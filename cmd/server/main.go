// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/cuelist/internal/api/httpapi"
	"github.com/osa030/cuelist/internal/app/filter"
	"github.com/osa030/cuelist/internal/app/jukebox"
	"github.com/osa030/cuelist/internal/app/notification"
	"github.com/osa030/cuelist/internal/infra/config"
	"github.com/osa030/cuelist/internal/infra/logger"
	"github.com/osa030/cuelist/internal/infra/metrics"
	"github.com/osa030/cuelist/internal/infra/spotify"
	"github.com/osa030/cuelist/internal/infra/store"
)

var (
	app        = kingpin.New("cuelist-server", "cuelist playlist server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// run keeps the deferred cleanups ahead of os.Exit.
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %+v", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()
	zlog.Info().Msgf("Spotify: %s", cfg.Spotify)

	entries, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return errors.Wrap(err, "failed to open store")
	}
	defer entries.Close()

	spotifyClient, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RefreshToken: cfg.Spotify.RefreshToken,
		Market:       cfg.Spotify.Market,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create Spotify client")
	}
	opener := spotify.NewOpener(spotifyClient.API(), spotify.StreamConfig{
		DeviceID:     cfg.Spotify.DeviceID,
		PollInterval: cfg.Spotify.PollInterval(),
		StartTimeout: cfg.Playback.OpenTimeout(),
	})

	m := metrics.New()

	var forwarders []notification.Forwarder
	if rc := cfg.Notification.Redis; rc.Enabled {
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		defer client.Close()
		fw := notification.NewRedisForwarder(client, rc.Channel)
		defer fw.Close()
		forwarders = append(forwarders, fw)
		zlog.Info().Msgf("Publishing notifications to redis: addr=%s, channel=%s", rc.Addr, rc.Channel)
	}

	jb, err := jukebox.New(cfg, jukebox.Dependencies{
		Persister:  entries,
		Resolver:   spotifyClient,
		Searcher:   spotifyClient,
		Opener:     opener,
		Metrics:    m,
		Forwarders: forwarders,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create jukebox")
	}
	defer jb.Close()

	if err := jb.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to load playlist")
	}

	api := httpapi.NewServer(httpapi.Config{AdminToken: cfg.Server.Token}, jb, m)
	if cfg.Server.Token == "" {
		zlog.Warn().Msg("Admin token not configured, mutating routes are open")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(api.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the listener a moment before the hooks poke at it
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop playback and close subscriptions first so websocket handlers return
	jb.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, f := range filter.Catalog() {
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// sh -c allows redirection and pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
