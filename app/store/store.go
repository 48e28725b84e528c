// Package store implements persistence of feed directory and item lists
// on top of a namespaced key-value adapter backed by bolt.
package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path"
	"time"

	log "github.com/go-pkgz/lgr"
	bolt "go.etcd.io/bbolt"
)

const bucketStorage = "storage"

// DefaultNamespace used as key prefix if none provided
const DefaultNamespace = "rss-reader"

// Storage defines best-effort key-value persistence. Failures are reported by false returns only.
type Storage interface {
	Available() bool
	Set(key string, value interface{}) bool
	Get(key string, value interface{}) bool
	Remove(key string) bool
	ClearAll() bool
}

// KV is a namespaced key-value adapter. All keys live in a single shared bucket
// as "<namespace>.<key>", so unrelated keys in the same bucket are left alone.
// KV without db is unavailable and every call is a no-op.
type KV struct {
	db     *bolt.DB
	prefix string
}

// NewKV opens (or creates) bolt file and makes KV for the namespace.
// Storage availability decided here, once. On failure KV is returned in unavailable mode.
func NewKV(dbFile, namespace string) *KV {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	log.Printf("[INFO] bolt (persistent) store, %s, namespace %q", dbFile, namespace)
	if err := os.MkdirAll(path.Dir(dbFile), 0700); err != nil {
		log.Printf("[WARN] storage unavailable, can't make dir for %s, %v", dbFile, err)
		return &KV{prefix: namespace}
	}

	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: 1 * time.Second}) // nolint
	if err != nil {
		log.Printf("[WARN] storage unavailable, can't open %s, %v", dbFile, err)
		return &KV{prefix: namespace}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists([]byte(bucketStorage))
		return e
	})
	if err != nil {
		log.Printf("[WARN] storage unavailable, can't create bucket %s, %v", bucketStorage, err)
		_ = db.Close()
		return &KV{prefix: namespace}
	}
	return &KV{db: db, prefix: namespace}
}

// Available reports if values are actually persisted
func (k *KV) Available() bool {
	return k.db != nil
}

// Set stores json-encoded value under key
func (k *KV) Set(key string, value interface{}) bool {
	if k.db == nil {
		return false
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[WARN] can't encode %s, %v", key, err)
		return false
	}
	err = k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketStorage)).Put(k.key(key), data)
	})
	if err != nil {
		log.Printf("[WARN] can't save %s, %v", key, err)
		return false
	}
	return true
}

// Get decodes value stored under key into value. Missing or malformed entries return false.
func (k *KV) Get(key string, value interface{}) bool {
	if k.db == nil {
		return false
	}
	var data []byte
	err := k.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(bucketStorage)).Get(k.key(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return false
	}
	if err := json.Unmarshal(data, value); err != nil {
		log.Printf("[WARN] malformed value for %s, %v", key, err)
		return false
	}
	return true
}

// Remove deletes key
func (k *KV) Remove(key string) bool {
	if k.db == nil {
		return false
	}
	err := k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketStorage)).Delete(k.key(key))
	})
	if err != nil {
		log.Printf("[WARN] can't remove %s, %v", key, err)
		return false
	}
	return true
}

// ClearAll removes keys of this namespace only
func (k *KV) ClearAll() bool {
	if k.db == nil {
		return false
	}
	prefix := []byte(k.prefix + ".")
	err := k.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketStorage))
		var keys [][]byte
		c := bucket.Cursor()
		for key, _ := c.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, _ = c.Next() {
			keys = append(keys, append([]byte(nil), key...))
		}
		for _, key := range keys {
			if e := bucket.Delete(key); e != nil {
				return e
			}
		}
		log.Printf("[DEBUG] cleared %d keys of %s", len(keys), k.prefix)
		return nil
	})
	if err != nil {
		log.Printf("[WARN] can't clear %s, %v", k.prefix, err)
		return false
	}
	return true
}

// Close bolt db
func (k *KV) Close() error {
	if k.db == nil {
		return nil
	}
	return k.db.Close()
}

func (k *KV) key(key string) []byte {
	return []byte(k.prefix + "." + key)
}
