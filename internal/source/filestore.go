package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrFileNotFound = errors.New("source file not found")

// FileStore reads and removes uploaded source files.
type FileStore interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Remove(ctx context.Context, path string) error
}

// LocalStore serves plain filesystem paths.
type LocalStore struct{}

func (LocalStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, nil
}

func (LocalStore) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3Store serves s3://bucket/key paths through a MinIO/S3 endpoint.
type S3Store struct {
	client *minio.Client
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &S3Store{client: client}, nil
}

func (s *S3Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, key, err := splitS3Path(path)
	if err != nil {
		return nil, err
	}
	if _, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("stat object %s: %w", path, err)
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	return obj, nil
}

func (s *S3Store) Remove(ctx context.Context, path string) error {
	bucket, key, err := splitS3Path(path)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", path, err)
	}
	return nil
}

func splitS3Path(path string) (string, string, error) {
	trimmed := strings.TrimPrefix(path, s3Scheme)
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 path %q", path)
	}
	return bucket, key, nil
}

const s3Scheme = "s3://"

// Router dispatches s3:// paths to the object store and everything else to the
// local filesystem.
type Router struct {
	Local  FileStore
	Object FileStore
}

func (r Router) pick(path string) (FileStore, error) {
	if strings.HasPrefix(path, s3Scheme) {
		if r.Object == nil {
			return nil, fmt.Errorf("no object store configured for %s", path)
		}
		return r.Object, nil
	}
	if r.Local == nil {
		return LocalStore{}, nil
	}
	return r.Local, nil
}

func (r Router) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	store, err := r.pick(path)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, path)
}

func (r Router) Remove(ctx context.Context, path string) error {
	store, err := r.pick(path)
	if err != nil {
		return err
	}
	return store.Remove(ctx, path)
}

// MemoryStore keeps files in a map. Used by tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

func (m *MemoryStore) Put(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), content...)
}

func (m *MemoryStore) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}

func (m *MemoryStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *MemoryStore) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}
