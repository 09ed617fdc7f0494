// Package blob keeps uploaded knowledge base files in a bbolt database and
// addresses them with bolt://bucket/key URLs.
package blob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xhad/concierge/internal/types"
	"go.etcd.io/bbolt"
)

const scheme = "bolt://"

type BoltConfig struct {
	Path   string
	Bucket string
}

type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

func NewBoltStore(config BoltConfig) (*BoltStore, error) {
	if config.Path == "" {
		config.Path = "concierge-blobs.db"
	}
	if config.Bucket == "" {
		config.Bucket = "kb"
	}

	db, err := bbolt.Open(config.Path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	bucket := []byte(config.Bucket)
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

// Put stores data under key, replacing any previous value, and returns the
// URL Get accepts.
func (s *BoltStore) Put(_ context.Context, key string, data []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key must not be empty")
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to put blob %s: %w", key, err)
	}
	return scheme + string(s.bucket) + "/" + key, nil
}

func (s *BoltStore) Get(_ context.Context, url string) ([]byte, error) {
	key, err := s.keyFromURL(url)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return &types.NotFoundError{Resource: "blob"}
		}
		// v is only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BoltStore) keyFromURL(url string) (string, error) {
	rest, ok := strings.CutPrefix(url, scheme)
	if !ok {
		return "", fmt.Errorf("unsupported blob url %q", url)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", fmt.Errorf("malformed blob url %q", url)
	}
	if bucket != string(s.bucket) {
		return "", &types.NotFoundError{Resource: "blob"}
	}
	return key, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
