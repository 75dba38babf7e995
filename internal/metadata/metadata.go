// Package metadata implements the metadata service spec.md §1 treats as an
// external collaborator: "a single key/value catalog read and written as
// opaque text." It is backed by go.etcd.io/bbolt, a single-file embedded
// store well suited to exactly this shape: small records, one writer at a
// time, durable across process restarts.
package metadata

import (
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("lsm-metadata")

// ErrNotFound is returned when a URI has no metadata record.
var ErrNotFound = errors.New("metadata: not found")

// Catalog is the metadata service: one opaque text record per tree URI.
type Catalog struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the catalog file at path.
func Open(path string) (*Catalog, error) {
	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: init bucket: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Get reads the record for uri. Returns ErrNotFound if absent.
func (c *Catalog) Get(uri string) (string, error) {
	var record string
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(uri))
		if v == nil {
			return ErrNotFound
		}
		record = string(v)
		return nil
	})
	return record, err
}

// Put writes (creating or overwriting) the record for uri. Per spec.md §4.2
// and §5, this is called inside the same atomic section that updates the
// in-memory roster, so a crash between the two is resolved at the next Open
// by trusting whichever metadata record made it to disk.
func (c *Catalog) Put(uri, record string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put([]byte(uri), []byte(record))
	})
}

// Delete removes the record for uri. Deleting an absent record is not an
// error: drop's partial-failure semantics (spec.md §7) may retry.
func (c *Catalog) Delete(uri string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Delete([]byte(uri))
	})
}

// ForEach visits every (uri, record) pair currently in the catalog, in key
// order. Used by the registry at process start to discover trees that were
// open when the process last exited.
func (c *Catalog) ForEach(fn func(uri, record string) error) error {
	return c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), string(v))
		})
	})
}

// Close releases the underlying file.
func (c *Catalog) Close() error {
	return c.db.Close()
}
