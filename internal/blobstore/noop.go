package blobstore

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// NoopStore fakes transfers with random latency and never touches the
// network or the local tree. Selected with TEST=1 for UI development.
type NoopStore struct {
	rng *rand.Rand
}

func NewNoopStore() *NoopStore {
	return &NoopStore{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (n *NoopStore) sleep() {
	time.Sleep(time.Duration(n.rng.Intn(400)+100) * time.Millisecond)
}

func (n *NoopStore) List(ctx context.Context, prefix string) ([]*Object, error) {
	slog.Debug("noop list", "prefix", prefix)
	n.sleep()
	return nil, nil
}

func (n *NoopStore) Upload(ctx context.Context, localPath string, key string) (*Object, error) {
	slog.Debug("noop upload", "path", localPath, "key", key)
	n.sleep()
	return &Object{Key: key, LastModified: time.Now().UTC()}, nil
}

func (n *NoopStore) Download(ctx context.Context, key string, localPath string) error {
	slog.Debug("noop download", "key", key, "path", localPath)
	n.sleep()
	return nil
}

func (n *NoopStore) Copy(ctx context.Context, srcKey string, dstKey string) error {
	slog.Debug("noop copy", "src", srcKey, "dst", dstKey)
	n.sleep()
	return nil
}

func (n *NoopStore) Delete(ctx context.Context, key string) error {
	slog.Debug("noop delete", "key", key)
	n.sleep()
	return nil
}

var _ Store = (*NoopStore)(nil)
