package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

// AddressScheme prefixes every address handed out for objects in the journey bucket.
const AddressScheme = "durable-store://"

// ErrObjectExists is returned by Put when the key is already taken.
var ErrObjectExists = errors.New("object already exists")

// BucketService is the durable object store client. Keys are hierarchical
// ("repair_sessions/{sessionId}/{phase}/{filename}") and every successful Put
// yields a durable-store:// address.
type BucketService interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
	Exists(ctx context.Context, prefix string) (bool, error)
	Download(ctx context.Context, key string) ([]byte, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	AddressFor(key string) string
	Bucket() string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	storageMode   ObjectStorageMode
	bucket        string
	writeTimeout  time.Duration
	readTimeout   time.Duration
}

func NewBucketServiceWithConfig(log *logger.Logger, storageCfg ObjectStorageConfig) (BucketService, error) {
	if err := ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "BucketService")

	stClient, err := newStorageClientForMode(context.Background(), storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info(
		"Object storage initialized",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"emulator_host", storageCfg.EmulatorHost,
		"bucket", storageCfg.Bucket,
	)

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		storageMode:   storageCfg.Mode,
		bucket:        strings.TrimSpace(storageCfg.Bucket),
		writeTimeout:  2 * time.Minute,
		readTimeout:   30 * time.Second,
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(storageCfg.Mode),
		}
	}
}

func (bs *bucketService) Bucket() string { return bs.bucket }

// Put never overwrites: the write carries a does-not-exist precondition and a
// 412 from the service surfaces as ErrObjectExists.
func (bs *bucketService) Put(ctx context.Context, key string, body []byte) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("put: empty key")
	}
	ctx, cancel := context.WithTimeout(ctx, bs.writeTimeout)
	defer cancel()

	w := bs.storageClient.Bucket(bs.bucket).Object(key).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return "", classifyWriteError(key, err)
	}
	if err := w.Close(); err != nil {
		return "", classifyWriteError(key, err)
	}
	return bs.AddressFor(key), nil
}

func classifyWriteError(key string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("put %q: %w", key, ErrObjectExists)
	}
	return fmt.Errorf("put %q: %w", key, err)
}

func (bs *bucketService) Exists(ctx context.Context, prefix string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, bs.readTimeout)
	defer cancel()
	it := bs.storageClient.Bucket(bs.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	_, err := it.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", prefix, err)
	}
	return true, nil
}

func (bs *bucketService) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, bs.writeTimeout)
	defer cancel()
	r, err := bs.storageClient.Bucket(bs.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS reader for %q: %w", key, err)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %q: %w", key, err)
	}
	return body, nil
}

func (bs *bucketService) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, bs.readTimeout)
	defer cancel()
	it := bs.storageClient.Bucket(bs.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (bs *bucketService) AddressFor(key string) string {
	return FormatAddress(bs.bucket, key)
}

func FormatAddress(bucket, key string) string {
	return AddressScheme + bucket + "/" + strings.TrimLeft(key, "/")
}

// ParseAddress splits a durable-store:// address into bucket and key.
func ParseAddress(addr string) (bucket string, key string, ok bool) {
	if !strings.HasPrefix(addr, AddressScheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(addr, AddressScheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".json"):
		return "application/json; charset=utf-8"
	case strings.HasSuffix(s, ".jsonl"):
		return "application/x-ndjson"
	case strings.HasSuffix(s, ".txt"):
		return "text/plain; charset=utf-8"
	default:
		return ""
	}
}
