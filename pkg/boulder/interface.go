package boulder

import "io"

// ReadWriterCloser is the full surface a DB implements.
type ReadWriterCloser interface {
	Reader
	Writer
	io.Closer
}

type Reader interface {
	// Get gets the value for the given key. It returns ErrNotFound if the
	// tree does not contain the key.
	//
	// The caller should not modify the contents of the returned slice, but it
	// is safe to modify the contents of the argument after Get returns. The
	// returned slice will remain valid until the returned Closer is closed.
	// On success, the caller MUST call closer.Close() or a cursor leak will
	// occur.
	Get(key []byte) (value []byte, closer io.Closer, err error)
}

type Writer interface {
	// Set sets the value for the given key, overwriting any previous value
	// for that key if it exists, and inserting the key-value pair if it does
	// not.
	Set(key, value []byte) error

	// Delete deletes the value for the given key. It is a blind delete: it
	// does not return an error if the key does not exist.
	Delete(key []byte) error

	// DeleteRange deletes every key in [start, end). Like Delete, it is
	// blind: an empty range is not an error.
	DeleteRange(start, end []byte) error
}
