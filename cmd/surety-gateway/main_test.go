package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/surety/internal/auth"
	"github.com/davidahmann/surety/internal/config"
	"github.com/davidahmann/surety/internal/logger"
)

func testEnv(overrides map[string]string) envFn {
	base := map[string]string{
		"SURETY_OWNER":         "0xowner",
		"SURETY_FIRST_AIRLINE": "0xa1",
		"SURETY_DEV_TOKEN":     "dev",
	}
	for k, v := range overrides {
		base[k] = v
	}
	return func(key string) string { return base[key] }
}

func get(t *testing.T, h http.Handler, path, as string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if as != "" {
		req.Header.Set("Authorization", "Bearer dev")
		req.Header.Set(auth.AddressHeader, as)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRunServesUntilListenerStops(t *testing.T) {
	var addr string
	listen := func(srv *http.Server) error {
		addr = srv.Addr
		if code := get(t, srv.Handler, "/health", ""); code != http.StatusOK {
			t.Errorf("health: %d", code)
		}
		if code := get(t, srv.Handler, "/v1/airlines/0xa1", "0xp1"); code != http.StatusOK {
			t.Errorf("bootstrapped airline: %d", code)
		}
		if code := get(t, srv.Handler, "/v1/oracles/me/indexes", "0xoracle002"); code != http.StatusOK {
			t.Errorf("simulated oracle: %d", code)
		}
		return http.ErrServerClosed
	}

	env := testEnv(map[string]string{"SURETY_SIMULATE_ORACLES": "3"})
	if err := run(context.Background(), nil, env, listen); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != ":8080" {
		t.Fatalf("expected default addr, got %s", addr)
	}
}

func TestRunListenError(t *testing.T) {
	listenErr := errors.New("listen failed")
	listen := func(*http.Server) error { return listenErr }

	err := run(context.Background(), nil, testEnv(map[string]string{"SURETY_LISTEN_ADDR": "127.0.0.1:1234"}), listen)
	if !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestRunRequiresOwner(t *testing.T) {
	listen := func(*http.Server) error {
		t.Fatalf("listen should not be called")
		return nil
	}
	if err := run(context.Background(), nil, testEnv(map[string]string{"SURETY_OWNER": ""}), listen); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestLoadConfigFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "surety.yaml")
	data := `
listen_addr: ":9999"
owner: "0xowner"
first_airline:
  address: "0xa1"
  name: "Alpha Air"
auth:
  dev_token: "from-file"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path, func(key string) string {
		if key == "SURETY_DEV_TOKEN" {
			return "from-env"
		}
		return ""
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("expected addr from config, got %s", cfg.ListenAddr)
	}
	if cfg.Auth.DevToken != "from-env" {
		t.Fatalf("expected env override, got %s", cfg.Auth.DevToken)
	}

	if _, err := loadConfig("", testEnv(map[string]string{"SURETY_SIMULATE_ORACLES": "many"})); err == nil {
		t.Fatalf("expected simulate parse error")
	}
}

func TestOpenStore(t *testing.T) {
	mem, err := openStore(config.DBConfig{})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	_ = mem.Close()

	sqlite, err := openStore(config.DBConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "surety.db")})
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	_ = sqlite.Close()

	if _, err := openStore(config.DBConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestSimulatedOraclesRejectUnreportableCodes(t *testing.T) {
	env := testEnv(map[string]string{"SURETY_SIMULATE_ORACLES": "1"})
	cfg, err := loadConfig("", env)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Oracles.StatusCodes = []int{0}
	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Fatalf("expected status code error")
	}
}

func TestLoadSignerKeepsKeyAcrossRestarts(t *testing.T) {
	cfg := config.SigningKeyConfig{PrivateKeyPath: filepath.Join(t.TempDir(), "signing.key")}

	first, err := loadSigner(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := loadSigner(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if first.KeyID() != second.KeyID() {
		t.Fatalf("key changed across restarts: %s != %s", first.KeyID(), second.KeyID())
	}

	ephemeral, err := loadSigner(config.SigningKeyConfig{}, logger.NewNop())
	if err != nil {
		t.Fatalf("ephemeral: %v", err)
	}
	if ephemeral.KeyID() == first.KeyID() {
		t.Fatalf("expected a fresh ephemeral key")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "a", "b"); got != "a" {
		t.Fatalf("expected a, got %s", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty, got %s", got)
	}
}

func TestListenAndServeInvalidAddr(t *testing.T) {
	err := listenAndServe(&http.Server{Addr: "127.0.0.1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMainError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(context.Context, []string, envFn, listenFn) error {
		return errors.New("boom")
	}
	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if !called {
		t.Fatalf("expected fatal call")
	}
}
