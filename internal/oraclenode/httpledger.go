package oraclenode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/davidahmann/surety/internal/api"
	"github.com/davidahmann/surety/internal/auth"
	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/surety"
	"github.com/davidahmann/surety/pkg/types"
)

// Credentials returns the headers that authenticate a request as address.
type Credentials func(address string) (http.Header, error)

// DevCredentials authenticates with the gateway's dev token.
func DevCredentials(token string) Credentials {
	return func(address string) (http.Header, error) {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+token)
		h.Set(auth.AddressHeader, address)
		return h, nil
	}
}

// JWTCredentials mints a short-lived token per request.
func JWTCredentials(issuer *auth.JWTAuthenticator, ttl time.Duration) Credentials {
	return func(address string) (http.Header, error) {
		token, err := issuer.Issue(address, ttl)
		if err != nil {
			return nil, err
		}
		h := http.Header{}
		h.Set("Authorization", "Bearer "+token)
		return h, nil
	}
}

// HTTPLedger reaches the marketplace through the gateway API. Rejections come
// back as the matching surety sentinel errors.
type HTTPLedger struct {
	BaseURL     string
	Client      *http.Client
	Credentials Credentials
}

func NewHTTPLedger(baseURL string, creds Credentials) *HTTPLedger {
	return &HTTPLedger{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Client:      &http.Client{Timeout: 10 * time.Second},
		Credentials: creds,
	}
}

func (l *HTTPLedger) RegisterOracle(ctx context.Context, address string, stake *uint256.Int) (ledger.OracleRecord, error) {
	var view api.OracleView
	if err := l.do(ctx, http.MethodPost, "/v1/oracles", address, api.OracleRegistration{Stake: stake.Dec()}, &view); err != nil {
		return ledger.OracleRecord{}, err
	}
	rec := ledger.OracleRecord{
		Address:      view.Address,
		Indexes:      api.ToIndexes(view.Indexes),
		RegisteredAt: view.RegisteredAt,
	}
	if view.Stake != "" {
		v, err := uint256.FromDecimal(view.Stake)
		if err != nil {
			return ledger.OracleRecord{}, fmt.Errorf("decode stake: %w", err)
		}
		rec.Stake = *v
	}
	return rec, nil
}

func (l *HTTPLedger) GetMyIndexes(ctx context.Context, oracle string) ([]uint8, error) {
	var view api.IndexesView
	if err := l.do(ctx, http.MethodGet, "/v1/oracles/me/indexes", oracle, nil, &view); err != nil {
		return nil, err
	}
	return api.ToIndexes(view.Indexes), nil
}

func (l *HTTPLedger) SubmitOracleResponse(ctx context.Context, oracle string, index uint8, airline, flight string, timestamp int64, code types.StatusCode) (surety.Submission, error) {
	var sub surety.Submission
	err := l.do(ctx, http.MethodPost, "/v1/oracle-responses", oracle, api.OracleResponse{
		Index:      index,
		Airline:    airline,
		Flight:     flight,
		Timestamp:  timestamp,
		StatusCode: code,
	}, &sub)
	return sub, err
}

func (l *HTTPLedger) do(ctx context.Context, method, path, as string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, l.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if l.Credentials != nil {
		headers, err := l.Credentials(as)
		if err != nil {
			return fmt.Errorf("credentials for %s: %w", as, err)
		}
		for k, v := range headers {
			req.Header[k] = v
		}
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e api.ErrorBody
		_ = json.Unmarshal(raw, &e)
		if sentinel := surety.FromCode(e.Error); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, e.Message)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
