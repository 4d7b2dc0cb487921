package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/cassiomorais/pos-payments/internal/repository/postgres"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const maxIdempotencyBodySize = 1 << 20

const keyReusedBody = `{"error":"Idempotency-Key was already used with a different request body","code":"idempotency_key_reused"}`

// ResponseStore persists responses by idempotency key.
type ResponseStore interface {
	// Get returns nil when nothing unexpired is stored for key.
	Get(ctx context.Context, key string) (*postgres.IdempotencyEntry, error)
	Set(ctx context.Context, entry *postgres.IdempotencyEntry) error
}

type recordedResponse struct {
	requestHash string
	status      int
	header      http.Header
	body        []byte
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the method and path, and bound to the request body: a
// key reused with a different body is rejected with 422. Concurrent
// requests with the same key in one process wait for the first. Server
// errors are not stored, so the request can be retried.
func Idempotency(store ResponseStore, ttl time.Duration, clk clock.Clock, logger zerolog.Logger) func(http.Handler) http.Handler {
	var group singleflight.Group

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			scoped := r.Method + " " + r.URL.Path + " " + key
			log := logger.With().Str("idempotency_key", key).Logger()

			hash, err := fingerprint(r)
			if err != nil {
				writeKeyError(w, http.StatusBadRequest, `{"error":"failed to read request body","code":"invalid_input"}`)
				return
			}

			if entry, err := store.Get(r.Context(), scoped); err != nil {
				log.Warn().Err(err).Msg("Idempotency lookup failed")
			} else if entry != nil {
				if entry.RequestHash != hash {
					writeKeyError(w, http.StatusUnprocessableEntity, keyReusedBody)
					return
				}
				replay(w, entry.ResponseStatus, nil, []byte(entry.ResponseBody))
				return
			}

			leader := false
			v, _, _ := group.Do(scoped, func() (any, error) {
				leader = true
				rec := &responseRecorder{header: make(http.Header), body: &bytes.Buffer{}, statusCode: http.StatusOK}
				next.ServeHTTP(rec, r)

				resp := &recordedResponse{requestHash: hash, status: rec.statusCode, header: rec.header, body: rec.body.Bytes()}
				if rec.statusCode < http.StatusInternalServerError && rec.body.Len() <= maxIdempotencyBodySize {
					now := clk.Now()
					err := store.Set(context.WithoutCancel(r.Context()), &postgres.IdempotencyEntry{
						Key:            scoped,
						RequestHash:    hash,
						ResponseBody:   rec.body.String(),
						ResponseStatus: rec.statusCode,
						CreatedAt:      now,
						ExpiresAt:      now.Add(ttl),
					})
					if err != nil {
						log.Warn().Err(err).Msg("Failed to store idempotent response")
					}
				}
				return resp, nil
			})

			resp := v.(*recordedResponse)
			switch {
			case leader:
				for k, vals := range resp.header {
					w.Header()[k] = vals
				}
				w.WriteHeader(resp.status)
				_, _ = w.Write(resp.body)
			case resp.requestHash != hash:
				writeKeyError(w, http.StatusUnprocessableEntity, keyReusedBody)
			default:
				replay(w, resp.status, resp.header, resp.body)
			}
		})
	}
}

// fingerprint hashes the request body and restores it for the handler.
func fingerprint(r *http.Request) (string, error) {
	if r.Body == nil {
		return hex.EncodeToString(sha256.New().Sum(nil)), nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBodySize+1))
	if err != nil {
		return "", err
	}
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

func writeKeyError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func replay(w http.ResponseWriter, status int, header http.Header, body []byte) {
	for k, vals := range header {
		w.Header()[k] = vals
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// responseRecorder buffers a response so it can be stored and shared.
type responseRecorder struct {
	header      http.Header
	statusCode  int
	body        *bytes.Buffer
	wroteHeader bool
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.statusCode = code
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(b)
}
