package db

import (
	"bytes"
	"fmt"

	"go.etcd.io/bbolt"
)

type Bucket struct {
	db   *bbolt.DB
	Name []byte
}

func (c *Client) Bucket(name string) (*Bucket, error) {
	if err := c.BoltDB.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	}); err != nil {
		return nil, err
	}
	return &Bucket{
		db:   c.BoltDB,
		Name: []byte(name),
	}, nil
}

func (b *Bucket) Update(fn func(bucket *bbolt.Bucket) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.Name)
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", b.Name)
		}
		return fn(bucket)
	})
}

func (b *Bucket) View(fn func(bucket *bbolt.Bucket) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.Name)
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", b.Name)
		}
		return fn(bucket)
	})
}

func (b *Bucket) Put(key, value []byte) error {
	return b.Update(func(bucket *bbolt.Bucket) error {
		return bucket.Put(key, value)
	})
}

// Scan calls fn for every key starting with prefix, in key order.
// k and v are only valid inside fn.
func (b *Bucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	return b.View(func(bucket *bbolt.Bucket) error {
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bucket) ForEach(fn func(k, v []byte) error) error {
	return b.View(func(bucket *bbolt.Bucket) error {
		return bucket.ForEach(fn)
	})
}

func (b *Bucket) Count() (int, error) {
	var count int
	err := b.View(func(bucket *bbolt.Bucket) error {
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}
