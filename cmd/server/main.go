package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	envFile       string
	port          string
	deliveryScope string
	logLevel      string
	redisURL      string
	issueToken    string
	tokenTTL      time.Duration
}

func run() error {
	var opts options

	flagSet := pflag.NewFlagSet("roomchat", pflag.ContinueOnError)
	flagSet.StringVar(&opts.envFile, "env-file", ".env", "file of KEY=VALUE pairs loaded before reading the environment")
	flagSet.StringVar(&opts.port, "port", "", "listen address, overrides SERVER_PORT (e.g. :8080)")
	flagSet.StringVar(&opts.deliveryScope, "delivery-scope", "", "room or lobby, overrides DELIVERY_SCOPE")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn or error, overrides LOG_LEVEL")
	flagSet.StringVar(&opts.redisURL, "redis-url", "", "mirror presence into this Redis, overrides REDIS_URL")
	flagSet.StringVar(&opts.issueToken, "issue-token", "", "print a signed token for this username and exit")
	flagSet.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of tokens printed by --issue-token")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := server.LoadEnvFile(opts.envFile); err != nil {
		return fmt.Errorf("loading %s: %w", opts.envFile, err)
	}
	cfg := server.NewConfigFromEnv()
	applyFlags(cfg, flagSet, opts)
	*cfg = cfg.Sanitize()

	setupLogging(cfg.LogLevel, cfg.LogFormat)

	if opts.issueToken != "" {
		token, err := server.NewAuthenticator(cfg.JWTSecret).Issue(opts.issueToken, opts.tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	return serve(*cfg)
}

func applyFlags(cfg *server.Config, flagSet *pflag.FlagSet, opts options) {
	if flagSet.Changed("port") {
		cfg.Port = opts.port
	}
	if flagSet.Changed("delivery-scope") {
		cfg.DeliveryScope = strings.ToLower(opts.deliveryScope)
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flagSet.Changed("redis-url") {
		cfg.RedisURL = opts.redisURL
	}
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func serve(cfg server.Config) error {
	log.Info().Str("module", "main").Str("scope", cfg.DeliveryScope).Int("bus_capacity", cfg.BusCapacity).Msg("starting roomchat server")

	engineOpts := []chat.Option{
		chat.WithDeliveryScope(cfg.Scope()),
		chat.WithBus(chat.NewBus(cfg.BusCapacity)),
	}

	var mirror *presence.Mirror
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := presence.Dial(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() { _ = client.Close() }()

		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		_, err = presence.Purge(ctx, client)
		cancel()
		if err != nil {
			return err
		}

		mirror = presence.New(client)
		engineOpts = append(engineOpts, chat.WithObserver(mirror))
		log.Info().Str("module", "main").Msg("mirroring presence to redis")
	}

	engine := chat.NewEngine(engineOpts...)
	app := server.NewApp(cfg, engine)
	httpServer := server.CreateServer(cfg.Port, app.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Str("module", "main").Msg("shutdown signal received")
	}

	var errs []error
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := app.Shutdown(cfg.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if mirror != nil {
		mirror.Close()
		if dropped := mirror.Dropped(); dropped > 0 {
			log.Warn().Str("module", "main").Uint64("dropped", dropped).Msg("presence changes dropped")
		}
	}
	return errors.Join(errs...)
}
