// Package disk provides a disk-backed cache.Store.
//
// Payloads are zstd-compressed and stored one file per entry under
// <root>/<partition>/<shard>/<digest>, where digest is the sha256 of the
// entry key. The file modification time records the cached-at instant, so
// the store needs no separate metadata index. Size budgets apply to the
// bytes actually stored on disk.
package disk

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/imgopt/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700

	// tmpPrefix marks in-progress writes. Files carrying it are not cache
	// entries until renamed into place and are invisible to scans.
	tmpPrefix = "entry-"
)

// Store implements cache.Store and cache.Stale on the local filesystem.
type Store struct {
	root           string
	budgets        map[string]cache.Budget
	shardPrefixLen int
	dirPerm        os.FileMode
	now            func() time.Time

	enc *zstd.Encoder
	dec *zstd.Decoder

	// evict serializes eviction passes per partition.
	evict partitionLocks
}

// Option configures a disk Store.
type Option func(*Store)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a disk-backed store rooted at dir with the given fixed
// partition budgets.
func New(dir string, budgets map[string]cache.Budget, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("disk: cache dir is empty")
	}
	s := &Store{
		root:           dir,
		budgets:        budgets,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("disk: shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}

	var err error
	if s.enc, err = zstd.NewWriter(nil); err != nil {
		return nil, err
	}
	if s.dec, err = zstd.NewReader(nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Get implements cache.Store. Unreadable or corrupt files degrade to a
// miss, matching the storage-failure semantics of the pipeline.
func (s *Store) Get(_ context.Context, partition, key string) ([]byte, bool) {
	budget, ok := s.budgets[partition]
	if !ok {
		return nil, false
	}
	path := s.path(partition, key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if budget.MaxAge > 0 && s.now().Sub(info.ModTime()) > budget.MaxAge {
		return nil, false
	}
	return s.read(path)
}

// GetStale implements cache.Stale.
func (s *Store) GetStale(_ context.Context, partition, key string) ([]byte, bool) {
	if _, ok := s.budgets[partition]; !ok {
		return nil, false
	}
	return s.read(s.path(partition, key))
}

// Put implements cache.Store. The payload is compressed and written to a
// temp file, then renamed into place so readers never see partial content.
func (s *Store) Put(ctx context.Context, partition, key string, payload []byte) error {
	if _, ok := s.budgets[partition]; !ok {
		return cache.ErrUnknownPartition
	}

	path := s.path(partition, key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(s.enc.EncodeAll(payload, nil)); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// Rename preserves the temp file's mtime; stamp the cached-at instant
	// explicitly so eviction ordering uses it.
	now := s.now()
	_ = os.Chtimes(path, now, now)

	_, err = s.EvictIfOverBudget(ctx, partition)
	return err
}

// Delete implements cache.Store.
func (s *Store) Delete(_ context.Context, partition, key string) error {
	if _, ok := s.budgets[partition]; !ok {
		return cache.ErrUnknownPartition
	}
	err := os.Remove(s.path(partition, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// EvictIfOverBudget implements cache.Store. Passes for the same partition
// are serialized; independent partitions evict concurrently.
func (s *Store) EvictIfOverBudget(_ context.Context, partition string) (int64, error) {
	budget, ok := s.budgets[partition]
	if !ok {
		return 0, cache.ErrUnknownPartition
	}
	unlock := s.evict.lock(partition)
	defer unlock()

	root := filepath.Join(s.root, partition)
	entries, total, err := scanDir(root)
	if err != nil {
		return 0, err
	}

	var freed int64
	now := s.now()
	for _, e := range entries {
		over := budget.MaxBytes > 0 && total > budget.MaxBytes
		stale := budget.MaxAge > 0 && now.Sub(e.modTime) > budget.MaxAge
		if !over && !stale {
			continue
		}
		if err := os.Remove(e.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return freed, err
		}
		total -= e.size
		freed += e.size
	}
	return freed, nil
}

// SizeBytes implements cache.Store. Walk errors report zero.
func (s *Store) SizeBytes(partition string) int64 {
	if _, ok := s.budgets[partition]; !ok {
		return 0
	}
	_, total, err := scanDir(filepath.Join(s.root, partition))
	if err != nil {
		return 0
	}
	return total
}

func (s *Store) read(path string) ([]byte, bool) {
	compressed, err := os.ReadFile(path) //nolint:gosec // path is derived from a digest, not user input
	if err != nil {
		return nil, false
	}
	payload, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (s *Store) path(partition, key string) string {
	encoded := digest.FromString(key).Encoded()
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.root, partition, encoded)
	}
	prefixLen := s.shardPrefixLen
	if prefixLen > len(encoded) {
		prefixLen = len(encoded)
	}
	return filepath.Join(s.root, partition, encoded[:prefixLen], encoded)
}

type diskEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// scanDir lists regular files under root sorted by ascending modification
// time, together with their total size.
func scanDir(root string) ([]diskEntry, int64, error) {
	entries := make([]diskEntry, 0)
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		entries = append(entries, diskEntry{
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	sortByModTime(entries)
	return entries, total, nil
}
