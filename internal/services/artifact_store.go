package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/repairjourney-backend/internal/observability"
	"github.com/yungbote/repairjourney-backend/internal/platform/gcp"
	"github.com/yungbote/repairjourney-backend/internal/platform/localstore"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

var tracer = otel.Tracer("github.com/yungbote/repairjourney-backend/internal/services")

// keyClock hands out strictly increasing millisecond timestamps so two keys
// minted by this process never share a time component.
type keyClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func newKeyClock(now func() time.Time) *keyClock {
	if now == nil {
		now = time.Now
	}
	return &keyClock{now: now}
}

func (c *keyClock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return time.UnixMilli(ms).UTC()
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ArtifactStore writes JSON artifacts to the durable store and falls back to
// the local store when that fails. It never returns an error: a payload that
// could not be stored anywhere gets an error:// address.
type ArtifactStore struct {
	log      *logger.Logger
	bucket   gcp.BucketService
	fallback localstore.Store
	clock    *keyClock
	metrics  *observability.Metrics
}

// NewArtifactStore accepts a nil bucket (durable store unreachable at startup)
// or a nil fallback; writes then go straight to whichever remains.
func NewArtifactStore(baseLog *logger.Logger, bucket gcp.BucketService, fallback localstore.Store) *ArtifactStore {
	return &ArtifactStore{
		log:      baseLog.With("service", "ArtifactStore"),
		bucket:   bucket,
		fallback: fallback,
		clock:    newKeyClock(nil),
	}
}

// WithMetrics attaches a metrics sink. Services sharing this store report
// through it as well.
func (s *ArtifactStore) WithMetrics(m *observability.Metrics) *ArtifactStore {
	s.metrics = m
	return s
}

func (s *ArtifactStore) Metrics() *observability.Metrics { return s.metrics }

// Key mints "{dir}/{name}_{unixMillis}_{8hex}.json" and returns the timestamp used.
func (s *ArtifactStore) Key(dir, name string) (string, time.Time) {
	ts := s.clock.next()
	file := fmt.Sprintf("%s_%d_%s.json", name, ts.UnixMilli(), randomSuffix())
	return path.Join(dir, file), ts
}

func SessionDir(sessionID uint, folder string) string {
	return fmt.Sprintf("repair_sessions/%d/%s", sessionID, folder)
}

// Write stores body under key. On a key collision in the durable store the
// write is retried once under a fresh key, so the returned key may differ.
func (s *ArtifactStore) Write(ctx context.Context, key string, body []byte) (string, string, Backend) {
	ctx, span := tracer.Start(ctx, "artifact.write")
	defer span.End()
	start := time.Now()
	span.SetAttributes(attribute.String("artifact.key", key), attribute.Int("artifact.bytes", len(body)))

	var failures []error
	if s.bucket != nil {
		addr, finalKey, err := s.putDurable(ctx, key, body)
		if err == nil {
			span.SetAttributes(attribute.String("artifact.backend", string(BackendDurable)))
			s.metrics.ObserveArtifactWrite(string(BackendDurable), time.Since(start))
			return addr, finalKey, BackendDurable
		}
		perr := &PersistError{Stage: "durable", Key: key, Err: err}
		failures = append(failures, perr)
		s.log.Warn("Durable store write failed, using local fallback", "key", key, "error", perr)
	}

	if s.fallback != nil {
		addr, err := s.fallback.WriteKey(key, body)
		if err == nil {
			span.SetAttributes(attribute.String("artifact.backend", string(BackendFallback)))
			s.metrics.ObserveArtifactWrite(string(BackendFallback), time.Since(start))
			return addr, key, BackendFallback
		}
		perr := &PersistError{Stage: "fallback", Key: key, Err: err}
		failures = append(failures, perr)
		s.log.Error("Local fallback write failed", "key", key, "error", perr)
	}

	err := errors.Join(failures...)
	if err == nil {
		err = errors.New("no artifact store configured")
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "artifact not stored")
	s.log.Error("Artifact could not be stored anywhere", "key", key, "error", err)
	s.metrics.ObserveArtifactWrite(string(BackendNone), time.Since(start))
	return ErrorAddressScheme + key, key, BackendNone
}

func (s *ArtifactStore) putDurable(ctx context.Context, key string, body []byte) (string, string, error) {
	addr, err := s.bucket.Put(ctx, key, body)
	if errors.Is(err, gcp.ErrObjectExists) {
		retryKey := s.rekey(key)
		s.log.Warn("Artifact key collision, retrying under a fresh key", "key", key, "retry_key", retryKey)
		addr, err = s.bucket.Put(ctx, retryKey, body)
		key = retryKey
	}
	return addr, key, err
}

// rekey keeps the directory and name prefix of key and mints a new suffix.
func (s *ArtifactStore) rekey(key string) string {
	dir, file := path.Split(key)
	name := strings.TrimSuffix(file, ".json")
	if i := strings.LastIndex(name, "_"); i > 0 {
		name = name[:i]
		if j := strings.LastIndex(name, "_"); j > 0 {
			name = name[:j]
		}
	}
	k, _ := s.Key(strings.TrimSuffix(dir, "/"), name)
	return k
}

// Read dereferences an address produced by Write.
func (s *ArtifactStore) Read(ctx context.Context, addr string) ([]byte, error) {
	switch {
	case strings.HasPrefix(addr, gcp.AddressScheme):
		if s.bucket == nil {
			return nil, fmt.Errorf("read %q: durable store not configured", addr)
		}
		bucket, key, ok := gcp.ParseAddress(addr)
		if !ok {
			return nil, fmt.Errorf("read %q: malformed address", addr)
		}
		if bucket != s.bucket.Bucket() {
			return nil, fmt.Errorf("read %q: bucket %q is not the journey bucket", addr, bucket)
		}
		return s.bucket.Download(ctx, key)
	case strings.HasPrefix(addr, localstore.AddressScheme):
		if s.fallback == nil {
			return nil, fmt.Errorf("read %q: local fallback not configured", addr)
		}
		return s.fallback.Read(addr)
	case IsErrorAddress(addr):
		return nil, fmt.Errorf("read %q: artifact was never stored", addr)
	default:
		return nil, fmt.Errorf("read %q: unknown address scheme", addr)
	}
}

func backendForAddress(addr string) Backend {
	switch {
	case strings.HasPrefix(addr, gcp.AddressScheme):
		return BackendDurable
	case strings.HasPrefix(addr, localstore.AddressScheme):
		return BackendFallback
	default:
		return BackendNone
	}
}
