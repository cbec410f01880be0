package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"humgo/internal/clock"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	replayHeader      = "Idempotent-Replay"
	maxMemoryReplies  = 4096
)

// CachedResponse is a stored reply to an idempotent request.
type CachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// ResponseStore keeps replies to requests that carried an Idempotency-Key.
// Get returns nil, nil when nothing is stored.
type ResponseStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response when a mutating request repeats
// an Idempotency-Key. Keys are scoped to the authenticated caller, so it must
// run after Auth. Server errors and rate limit rejections are not stored.
func Idempotency(store ResponseStore, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut && c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" || store == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := "idempotency:" + c.Request.Method + ":" + c.FullPath() + ":" + key
		if identity, ok := IdentityFrom(c); ok {
			cacheKey = "idempotency:" + identity.ID + ":" + c.Request.Method + ":" + c.FullPath() + ":" + key
		}

		cached, err := store.Get(ctx, cacheKey)
		if err != nil {
			// Store unavailable; proceed without replay.
			logger.Warn("idempotency lookup failed", zap.Error(err))
			c.Next()
			return
		}

		if cached != nil {
			for k, v := range cached.Headers {
				for _, val := range v {
					c.Header(k, val)
				}
			}
			c.Header(replayHeader, "true")
			c.Data(cached.StatusCode, "application/json", cached.Body)
			c.Abort()
			return
		}

		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		c.Next()

		if status := c.Writer.Status(); status >= 200 && status < 500 && status != http.StatusTooManyRequests {
			response := CachedResponse{
				StatusCode: status,
				Body:       w.body.Bytes(),
				Headers:    extractResponseHeaders(c),
			}
			if err := store.Set(ctx, cacheKey, &response, idempotencyTTL); err != nil {
				logger.Warn("idempotency store failed", zap.Error(err))
			}
		}
	}
}

// extractResponseHeaders extracts headers to cache.
func extractResponseHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	for _, name := range []string{"Content-Type", "Retry-After"} {
		if v := c.Writer.Header().Get(name); v != "" {
			headers.Set(name, v)
		}
	}
	return headers
}

// RedisResponseStore keeps replies in Redis.
type RedisResponseStore struct {
	client *redis.Client
}

// NewRedisResponseStore creates a RedisResponseStore.
func NewRedisResponseStore(client *redis.Client) *RedisResponseStore {
	return &RedisResponseStore{client: client}
}

func (s *RedisResponseStore) Get(ctx context.Context, key string) (*CachedResponse, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (s *RedisResponseStore) Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// MemoryResponseStore keeps replies in process for single-node deployments.
// When full, expired entries are dropped first and then the oldest.
type MemoryResponseStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryReply
}

type memoryReply struct {
	resp    CachedResponse
	expires time.Time
}

// NewMemoryResponseStore creates a MemoryResponseStore.
func NewMemoryResponseStore(clk clock.Clock) *MemoryResponseStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryResponseStore{clock: clk, entries: make(map[string]memoryReply)}
}

func (s *MemoryResponseStore) Get(_ context.Context, key string) (*CachedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !s.clock.Now().Before(e.expires) {
		delete(s.entries, key)
		return nil, nil
	}
	resp := e.resp
	return &resp, nil
}

func (s *MemoryResponseStore) Set(_ context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if len(s.entries) >= maxMemoryReplies {
		s.evict(now)
	}
	s.entries[key] = memoryReply{resp: *resp, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryResponseStore) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(s.entries) >= maxMemoryReplies && oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

var (
	_ ResponseStore = (*RedisResponseStore)(nil)
	_ ResponseStore = (*MemoryResponseStore)(nil)
)
