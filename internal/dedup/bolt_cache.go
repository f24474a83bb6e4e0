package dedup

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	fingerprintBucket = "fingerprints"
	expiryValueBytes  = 8
)

// boltCache keeps known fingerprints in a local BoltDB file. Only positive
// answers are cached; a miss always consults the backing lookup.
type boltCache struct {
	db              *bolt.DB
	next            Lookup
	ttl             time.Duration
	cleanupInterval time.Duration
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
}

func openBolt(path string, next Lookup, opts Options) (*boltCache, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(fingerprintBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	c := &boltCache{
		db:              db,
		next:            next,
		ttl:             opts.TTL,
		cleanupInterval: opts.CleanupInterval,
	}
	c.lastCleanup.Store(time.Now().Unix())
	return c, nil
}

func (c *boltCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *boltCache) ExistsFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	now := time.Now()
	if err := c.maybeCleanupExpired(now); err != nil {
		return false, err
	}

	cached, err := c.cached(fingerprint, now)
	if err != nil {
		return false, err
	}
	if cached {
		return true, nil
	}

	exists, err := c.next.ExistsFingerprint(ctx, fingerprint)
	if err != nil || !exists {
		return exists, err
	}
	return true, c.put(fingerprint, now)
}

func (c *boltCache) RecordFingerprint(_ context.Context, fingerprint string) error {
	return c.put(fingerprint, time.Now())
}

func (c *boltCache) cached(fingerprint string, now time.Time) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(fingerprintBucket))
		if bucket == nil {
			return fmt.Errorf("fingerprint bucket missing")
		}
		expiry, ok := decodeExpiry(bucket.Get([]byte(fingerprint)))
		found = ok && expiry.After(now)
		return nil
	})
	return found, err
}

func (c *boltCache) put(fingerprint string, now time.Time) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(fingerprintBucket))
		if bucket == nil {
			return fmt.Errorf("fingerprint bucket missing")
		}
		buf := make([]byte, expiryValueBytes)
		binary.BigEndian.PutUint64(buf, uint64(now.Add(c.ttl).Unix()))
		return bucket.Put([]byte(fingerprint), buf)
	})
}

// maybeCleanupExpired drops expired entries at most once per cleanup interval.
func (c *boltCache) maybeCleanupExpired(now time.Time) error {
	last := time.Unix(c.lastCleanup.Load(), 0)
	if now.Sub(last) < c.cleanupInterval {
		return nil
	}

	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	last = time.Unix(c.lastCleanup.Load(), 0)
	if now.Sub(last) < c.cleanupInterval {
		return nil
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(fingerprintBucket))
		if bucket == nil {
			return fmt.Errorf("fingerprint bucket missing")
		}
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				if err := cursor.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		c.lastCleanup.Store(now.Unix())
	}
	return err
}

func decodeExpiry(value []byte) (time.Time, bool) {
	if len(value) != expiryValueBytes {
		return time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value))
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
