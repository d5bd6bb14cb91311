package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/iago/feedback-insights/internal/http/middleware"
	"github.com/iago/feedback-insights/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

const (
	maxBodyBytes   = 8 << 20
	idempotencyTTL = 24 * time.Hour
)

type API struct {
	jobsService *service.JobsService
	idempotency *idempotencyStore
}

func NewAPI(jobsService *service.JobsService) *API {
	return &API{
		jobsService: jobsService,
		idempotency: newIdempotencyStore(),
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	middleware.WriteError(w, r, statusCode, code, message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

// idempotencyStore remembers which job an Idempotency-Key produced so that
// producer retries do not enqueue the same batch twice.
type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]idempotencyEntry),
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if ok && time.Since(entry.CreatedAt) > idempotencyTTL {
		delete(s.entries, key)
		return idempotencyEntry{}, false
	}
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		JobID:       jobID,
		CreatedAt:   time.Now().UTC(),
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
