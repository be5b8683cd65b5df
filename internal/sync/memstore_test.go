package sync

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/YAtOff/s3rsync/internal/store"
)

// memStore is an in-memory versioned object store for tests. It assigns
// sequential version ids, computes MD5 ETags, and honors conditional puts the
// way the S3 backend does.
type memStore struct {
	mu       sync.Mutex
	buckets  map[string]map[string][]memVersion
	nextVer  int
	getCalls map[string]int // bucket/key -> GetStream invocations
}

type memVersion struct {
	id   string
	etag string
	data []byte
}

func newMemStore() *memStore {
	return &memStore{
		buckets:  make(map[string]map[string][]memVersion),
		getCalls: make(map[string]int),
	}
}

func (m *memStore) put(bucket, key string, data []byte, cond *store.PutConditions) (*store.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string][]memVersion)
	}
	versions := m.buckets[bucket][key]

	if cond != nil {
		if cond.IfNoneMatchAny && len(versions) > 0 {
			return nil, fmt.Errorf("put %s: %w", key, store.ErrPreconditionFailed)
		}
		if cond.IfMatch != "" {
			if len(versions) == 0 || versions[len(versions)-1].etag != cond.IfMatch {
				return nil, fmt.Errorf("put %s: %w", key, store.ErrPreconditionFailed)
			}
		}
	}

	m.nextVer++
	v := memVersion{
		id:   fmt.Sprintf("v%d", m.nextVer),
		etag: fmt.Sprintf("%x", md5.Sum(data)),
		data: append([]byte(nil), data...),
	}
	m.buckets[bucket][key] = append(versions, v)
	return &store.ObjectInfo{
		Key:          key,
		VersionID:    v.id,
		ETag:         v.etag,
		Size:         int64(len(v.data)),
		LastModified: time.Now(),
	}, nil
}

func (m *memStore) find(bucket, key, version string) (*memVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.buckets[bucket][key]
	if len(versions) == 0 {
		return nil, fmt.Errorf("get %s: %w", key, store.ErrNotFound)
	}
	if version == "" {
		return &versions[len(versions)-1], nil
	}
	for i := range versions {
		if versions[i].id == version {
			return &versions[i], nil
		}
	}
	return nil, fmt.Errorf("get %s@%s: %w", key, version, store.ErrNotFound)
}

func (m *memStore) Put(ctx context.Context, bucket, key, path string) (*store.ObjectInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return m.put(bucket, key, data, nil)
}

func (m *memStore) PutStream(ctx context.Context, bucket, key string, body io.Reader, size int64, cond *store.PutConditions) (*store.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return m.put(bucket, key, data, cond)
}

func (m *memStore) Get(ctx context.Context, bucket, key, path, version string) error {
	v, err := m.find(bucket, key, version)
	if err != nil {
		return err
	}
	return os.WriteFile(path, v.data, 0o644)
}

func (m *memStore) GetStream(ctx context.Context, bucket, key, version string, w io.Writer) error {
	v, err := m.find(bucket, key, version)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.getCalls[bucket+"/"+key]++
	m.mu.Unlock()
	_, err = io.Copy(w, bytes.NewReader(v.data))
	return err
}

func (m *memStore) Head(ctx context.Context, bucket, key string) (*store.ObjectInfo, error) {
	v, err := m.find(bucket, key, "")
	if err != nil {
		return nil, err
	}
	return &store.ObjectInfo{
		Key:       key,
		VersionID: v.id,
		ETag:      v.etag,
		Size:      int64(len(v.data)),
	}, nil
}

func (m *memStore) ListLatestVersions(ctx context.Context, bucket, prefix string) ([]*store.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var infos []*store.ObjectInfo
	for key, versions := range m.buckets[bucket] {
		if !strings.HasPrefix(key, prefix) || len(versions) == 0 {
			continue
		}
		v := versions[len(versions)-1]
		infos = append(infos, &store.ObjectInfo{
			Key:       key,
			VersionID: v.id,
			ETag:      v.etag,
			Size:      int64(len(v.data)),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (m *memStore) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], key)
	return nil
}

func (m *memStore) exists(bucket, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets[bucket][key]) > 0
}

var _ store.ObjectStore = (*memStore)(nil)
