package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/davidahmann/surety/internal/api"
	"github.com/davidahmann/surety/internal/auth"
	"github.com/davidahmann/surety/internal/config"
	"github.com/davidahmann/surety/internal/crypto"
	"github.com/davidahmann/surety/internal/events"
	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/ledger/mysqlstore"
	"github.com/davidahmann/surety/internal/ledger/pgstore"
	"github.com/davidahmann/surety/internal/ledger/sqlstore"
	"github.com/davidahmann/surety/internal/logger"
	"github.com/davidahmann/surety/internal/metrics"
	"github.com/davidahmann/surety/internal/oraclenode"
	"github.com/davidahmann/surety/internal/params"
	"github.com/davidahmann/surety/internal/surety"
	"github.com/davidahmann/surety/pkg/types"
)

// app is the wired gateway: one store, one service, and the workers around it.
type app struct {
	log     logger.Logger
	store   ledger.Store
	broker  *events.Broker
	relay   *events.Relay
	service *surety.Service
	node    *oraclenode.Node
	server  *http.Server
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	p := params.Default()
	if cfg.ParamsPath != "" {
		loaded, err := params.Load(cfg.ParamsPath)
		if err != nil {
			return nil, fmt.Errorf("params: %w", err)
		}
		p = loaded.Params
		log.Info("params loaded", "params_id", p.ParamsID, "params_hash", loaded.Hash)
	}

	signer, err := loadSigner(cfg.SigningKey, log)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	a := &app{log: log, store: store}
	fail := func(err error) (*app, error) {
		_ = a.Close()
		return nil, err
	}

	a.broker, err = events.Open(ctx, events.Options{
		Driver:        cfg.Events.Driver,
		URL:           cfg.Events.URL,
		Exchange:      cfg.Events.Exchange,
		ChannelPrefix: cfg.Events.ChannelPrefix,
		Log:           log.With("component", "events"),
	})
	if err != nil {
		return fail(fmt.Errorf("events: %w", err))
	}

	m := metrics.New()
	a.relay = events.NewRelay(store, a.broker, log.With("component", "relay"), m)

	a.service, err = surety.New(surety.Options{
		Store:   store,
		Params:  p,
		Signer:  signer,
		Payer:   surety.LoggingPayer{Log: log.With("component", "payer")},
		Logger:  log.With("component", "surety"),
		Metrics: m,
		Notify:  a.relay.Notify,
	})
	if err != nil {
		return fail(err)
	}
	if err := a.service.Bootstrap(ctx, cfg.Owner, cfg.FirstAirline.Address, cfg.FirstAirline.Name); err != nil {
		return fail(fmt.Errorf("bootstrap: %w", err))
	}

	if cfg.Oracles.Simulate > 0 {
		a.node, err = simulatedOracles(ctx, cfg.Oracles, a.service, p, log)
		if err != nil {
			return fail(err)
		}
	}

	h := &api.Handler{
		Auth:    auth.NewAuthenticator(cfg.Auth.DevToken, cfg.Auth.JWTSecret),
		Service: a.service,
		Log:     log.With("component", "api"),
	}
	a.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(h, m.Registry, api.NewIdempotencyStore(store, cfg.Auth.IdempotencyTTL, log.With("component", "idempotency"))),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.broker != nil {
		errs = append(errs, a.broker.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}

// openStore returns the in-memory ledger unless a database driver is configured.
func openStore(db config.DBConfig) (ledger.Store, error) {
	if db.Driver == "" || db.Driver == "memory" {
		return ledger.NewInMemoryStore(), nil
	}
	driver, err := ledger.ParseDriver(db.Driver)
	if err != nil {
		return nil, err
	}

	var store *sqlstore.Store
	switch driver {
	case ledger.DBSQLite:
		store, err = sqlstore.OpenSQLite(db.DSN)
	case ledger.DBPostgres:
		store, err = pgstore.OpenPostgres(db.DSN)
	case ledger.DBMySQL:
		store, err = mysqlstore.OpenMySQL(db.DSN)
	}
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// loadSigner reads the configured key, creating the file on first start. Without
// a path an ephemeral key is generated, which makes the journal unverifiable
// after a restart.
func loadSigner(cfg config.SigningKeyConfig, log logger.Logger) (*crypto.Signer, error) {
	if cfg.PrivateKeyPath != "" {
		signer, created, err := crypto.LoadOrCreateSigner(cfg.PrivateKeyPath, cfg.KeyID)
		if err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
		if created {
			log.Info("generated signing key", "path", cfg.PrivateKeyPath, "key_id", signer.KeyID())
		}
		return signer, nil
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	signer, err := crypto.NewSignerFromSeed(cfg.KeyID, seed)
	if err != nil {
		return nil, err
	}
	log.Warn("no signing key configured; using an ephemeral key", "key_id", signer.KeyID())
	return signer, nil
}

func simulatedOracles(ctx context.Context, cfg config.OraclesConfig, svc *surety.Service, p params.Params, log logger.Logger) (*oraclenode.Node, error) {
	addrs := make([]string, cfg.Simulate)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("0xoracle%03d", i+1)
	}
	codes := make([]types.StatusCode, 0, len(cfg.StatusCodes))
	for _, c := range cfg.StatusCodes {
		code := types.StatusCode(c)
		if !code.Reportable() {
			return nil, fmt.Errorf("oracles.status_codes: %d is not a reportable status", c)
		}
		codes = append(codes, code)
	}

	node, err := oraclenode.New(svc, oraclenode.Options{
		Addresses: addrs,
		Stake:     p.OracleRegistrationFee.Big(),
		Chooser:   oraclenode.NewRandomStatus(uint64(time.Now().UnixNano()), codes),
		Log:       log.With("component", "oracles"),
	})
	if err != nil {
		return nil, err
	}
	if err := node.Register(ctx); err != nil {
		return nil, err
	}
	return node, nil
}
