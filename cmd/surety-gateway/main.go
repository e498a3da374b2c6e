package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/surety/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runFn(ctx, os.Args[1:], os.Getenv, listenAndServe); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string
type listenFn func(*http.Server) error

func run(ctx context.Context, args []string, getenv envFn, listen listenFn) error {
	fs := flag.NewFlagSet("surety-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to surety config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(firstNonEmpty(*configPath, getenv("SURETY_CONFIG_PATH")), getenv)
	if err != nil {
		return err
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		app.log.Info("surety-gateway listening", "addr", cfg.ListenAddr)
		if err := listen(app.server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return app.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		app.relay.Run(gctx, cfg.Workers.RelayInterval)
		return nil
	})
	g.Go(func() error {
		app.service.RunExpirySweeper(gctx, cfg.Workers.SweepInterval)
		return nil
	})
	if app.node != nil {
		g.Go(func() error {
			if err := app.node.Run(gctx, app.broker); err != nil {
				return fmt.Errorf("oracle node: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// loadConfig reads the optional config file and overlays SURETY_* variables.
func loadConfig(path string, getenv envFn) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	cfg.ListenAddr = firstNonEmpty(getenv("SURETY_LISTEN_ADDR"), cfg.ListenAddr, ":8080")
	cfg.Owner = firstNonEmpty(getenv("SURETY_OWNER"), cfg.Owner)
	cfg.FirstAirline.Address = firstNonEmpty(getenv("SURETY_FIRST_AIRLINE"), cfg.FirstAirline.Address)
	cfg.FirstAirline.Name = firstNonEmpty(getenv("SURETY_FIRST_AIRLINE_NAME"), cfg.FirstAirline.Name)
	cfg.ParamsPath = firstNonEmpty(getenv("SURETY_PARAMS_PATH"), cfg.ParamsPath)
	cfg.DB.Driver = firstNonEmpty(getenv("SURETY_DB_DRIVER"), cfg.DB.Driver)
	cfg.DB.DSN = firstNonEmpty(getenv("SURETY_DB_DSN"), cfg.DB.DSN)
	cfg.SigningKey.PrivateKeyPath = firstNonEmpty(getenv("SURETY_SIGNING_KEY_PATH"), cfg.SigningKey.PrivateKeyPath)
	cfg.Events.Driver = firstNonEmpty(getenv("SURETY_EVENTS_DRIVER"), cfg.Events.Driver)
	cfg.Events.URL = firstNonEmpty(getenv("SURETY_EVENTS_URL"), cfg.Events.URL)
	cfg.Auth.JWTSecret = firstNonEmpty(getenv("SURETY_JWT_SECRET"), cfg.Auth.JWTSecret)
	cfg.Auth.DevToken = firstNonEmpty(getenv("SURETY_DEV_TOKEN"), cfg.Auth.DevToken)
	cfg.Log.Level = firstNonEmpty(getenv("SURETY_LOG_LEVEL"), cfg.Log.Level)
	if v := getenv("SURETY_SIMULATE_ORACLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return config.Config{}, fmt.Errorf("SURETY_SIMULATE_ORACLES: %w", err)
		}
		cfg.Oracles.Simulate = n
	}

	return cfg, cfg.Finalize()
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
