package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/logger"
)

// IdempotencyHeader lets a client retry a mutation and get the first response back.
const IdempotencyHeader = "Idempotency-Key"

type IdemStatus string

const (
	IdemInFlight  IdemStatus = "in_flight"
	IdemCompleted IdemStatus = "completed"
)

const (
	// DefaultIdempotencyTTL bounds how long a completed response is replayed.
	DefaultIdempotencyTTL = 24 * time.Hour
	// inFlightTTL releases a claim left behind by a crashed request.
	inFlightTTL = 2 * time.Minute
)

// IdempotencyStore keeps responses per caller and key in the ledger, so a
// retry after a restart is still answered from the first attempt. Server
// errors are forgotten so the client can retry them.
type IdempotencyStore struct {
	store ledger.Store
	ttl   time.Duration
	now   func() time.Time
	log   logger.Logger
}

func NewIdempotencyStore(store ledger.Store, ttl time.Duration, log logger.Logger) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &IdempotencyStore{store: store, ttl: ttl, now: time.Now, log: log}
}

// storageKey keeps stored keys fixed-width whatever the client sends.
func storageKey(callerID, method, path, idem string) string {
	sum := sha256.Sum256([]byte(callerID + "|" + method + "|" + path + "|" + idem))
	return hex.EncodeToString(sum[:])
}

// claim marks key in flight. It returns the live record when one is present.
func (s *IdempotencyStore) claim(c echo.Context, key string) (ledger.IdempotencyRecord, bool, error) {
	var (
		existing ledger.IdempotencyRecord
		held     bool
	)
	now := s.now()
	err := s.store.WithTx(c.Request().Context(), func(tx ledger.Tx) error {
		rec, ok, err := tx.GetIdempotencyKey(key)
		if err != nil {
			return err
		}
		if ok && rec.ExpiresAt > ledger.FormatTime(now) {
			existing, held = rec, true
			return nil
		}
		ts := ledger.FormatTime(now)
		return tx.PutIdempotencyKey(ledger.IdempotencyRecord{
			IdemKey:   key,
			Status:    string(IdemInFlight),
			CreatedAt: ts,
			UpdatedAt: ts,
			ExpiresAt: ledger.FormatTime(now.Add(inFlightTTL)),
		})
	})
	return existing, held, err
}

func (s *IdempotencyStore) finish(c echo.Context, rec ledger.IdempotencyRecord) error {
	now := s.now()
	return s.store.WithTx(c.Request().Context(), func(tx ledger.Tx) error {
		if rec.StatusCode >= http.StatusInternalServerError {
			return tx.DeleteIdempotencyKey(rec.IdemKey)
		}
		if claimed, ok, err := tx.GetIdempotencyKey(rec.IdemKey); err != nil {
			return err
		} else if ok {
			rec.CreatedAt = claimed.CreatedAt
		}
		rec.UpdatedAt = ledger.FormatTime(now)
		rec.ExpiresAt = ledger.FormatTime(now.Add(s.ttl))
		return tx.PutIdempotencyKey(rec)
	})
}

type bodyRecorder struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (r *bodyRecorder) Write(p []byte) (int, error) {
	r.buf.Write(p)
	return r.ResponseWriter.Write(p)
}

// Middleware replays responses for mutating requests that carry IdempotencyHeader.
func (s *IdempotencyStore) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		idem := req.Header.Get(IdempotencyHeader)
		if idem == "" || req.Method == http.MethodGet {
			return next(c)
		}
		key := storageKey(caller(c), req.Method, req.URL.Path, idem)

		prior, ok, err := s.claim(c, key)
		if err != nil {
			return err
		}
		if ok {
			if prior.Status == string(IdemInFlight) {
				return c.JSON(http.StatusConflict, ErrorBody{Error: "request_in_progress", Message: "a request with this idempotency key is in progress"})
			}
			c.Response().Header().Set("Idempotent-Replay", "true")
			return c.Blob(prior.StatusCode, prior.ContentType, prior.Body)
		}

		res := c.Response()
		rec := &bodyRecorder{ResponseWriter: res.Writer}
		res.Writer = rec
		err = next(c)
		res.Writer = rec.ResponseWriter

		status := res.Status
		if err != nil {
			status = http.StatusInternalServerError
		}
		if ferr := s.finish(c, ledger.IdempotencyRecord{
			IdemKey:     key,
			Status:      string(IdemCompleted),
			StatusCode:  status,
			ContentType: res.Header().Get(echo.HeaderContentType),
			Body:        rec.buf.Bytes(),
		}); ferr != nil {
			s.log.Warn("idempotency record not saved", "error", ferr)
		}
		return err
	}
}
