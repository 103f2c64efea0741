package fetch

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"gocloud.dev/blob"
)

// namer assigns destination keys under <space>/<list>/, resolving
// filename collisions by suffixing (name_001.ext, name_002.ext, ...).
// Name selection is serialized per directory so two workers finishing
// at the same time cannot pick the same suffix.
type namer struct {
	bucket *blob.Bucket

	mu       sync.Mutex
	dirs     map[string]*sync.Mutex
	reserved map[string]struct{}
}

func newNamer(bucket *blob.Bucket) *namer {
	return &namer{
		bucket:   bucket,
		dirs:     make(map[string]*sync.Mutex),
		reserved: make(map[string]struct{}),
	}
}

func (n *namer) dirLock(dir string) *sync.Mutex {
	n.mu.Lock()
	defer n.mu.Unlock()
	lock, ok := n.dirs[dir]
	if !ok {
		lock = &sync.Mutex{}
		n.dirs[dir] = lock
	}
	return lock
}

// reserve picks a free destination key for name under dir and marks it
// taken until release is called. A key counts as taken if another
// in-flight download reserved it or an object already exists at it.
func (n *namer) reserve(ctx context.Context, dir, name string) (string, error) {
	lock := n.dirLock(dir)
	lock.Lock()
	defer lock.Unlock()

	base, ext := splitExt(name)
	candidate := name
	for i := 1; ; i++ {
		key := path.Join(dir, candidate)

		n.mu.Lock()
		_, taken := n.reserved[key]
		n.mu.Unlock()

		if !taken {
			exists, err := n.bucket.Exists(ctx, key)
			if err != nil {
				return "", fmt.Errorf("check destination %s: %w", key, err)
			}
			taken = exists
		}
		if !taken {
			n.mu.Lock()
			n.reserved[key] = struct{}{}
			n.mu.Unlock()
			return key, nil
		}

		candidate = fmt.Sprintf("%s_%03d%s", base, i, ext)
	}
}

// release frees an in-flight reservation. Safe to call after the object
// was committed: an existing object keeps its key taken regardless.
func (n *namer) release(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.reserved, key)
}

func splitExt(name string) (base, ext string) {
	ext = path.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// sanitizeComponent makes a space, list or file name safe to use as a
// single path element of a destination key.
func sanitizeComponent(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, s)
	s = strings.Trim(s, " .")
	if s == "" {
		return "untitled"
	}
	return s
}
