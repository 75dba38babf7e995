// Package base holds the key/value primitives shared by every layer of a
// chunk's backing store: the trailer-encoded internal key, its sequence
// number, and the key kind (set vs. tombstone). These are the vocabulary the
// memtable, the sstable writer, and the LSM cursor all speak.
package base

// InternalKeyKind distinguishes a live value from a tombstone (and, for
// merge-cursor traversal, a few auxiliary kinds).
type InternalKeyKind uint8

const (
	InternalKeyKindSet    InternalKeyKind = 1
	InternalKeyKindDelete InternalKeyKind = 2

	// InternalKeyKindMax is the largest kind value, so a trailer built with
	// it is maximal for its sequence number and a search key built with it
	// sorts before any real key with the same user key.
	InternalKeyKindMax InternalKeyKind = 255
)

// InternalKeyTrailer packs a sequence number and a key kind into a single
// comparable value: the high 56 bits are the sequence number, the low 8 the
// kind. Among internal keys with equal user keys, a higher trailer sorts
// first, so the newest write of a key is always seen first by a forward
// iterator.
type InternalKeyTrailer uint64

// MakeTrailer constructs a trailer from a sequence number and a kind.
func MakeTrailer(seqNum SeqNum, kind InternalKeyKind) InternalKeyTrailer {
	return InternalKeyTrailer(seqNum)<<8 | InternalKeyTrailer(kind)
}

// SeqNum returns the sequence number component of the trailer.
func (t InternalKeyTrailer) SeqNum() SeqNum {
	return SeqNum(t >> 8)
}

// Kind returns the key kind component of the trailer.
func (t InternalKeyTrailer) Kind() InternalKeyKind {
	return InternalKeyKind(t & 0xff)
}

// InternalKey is the key stored in a chunk's backing store: a user key plus
// the trailer that orders otherwise-equal user keys by recency.
type InternalKey struct {
	UserKey []byte
	Trailer InternalKeyTrailer
}

// MakeInternalKey constructs an internal key from a user key, sequence
// number, and kind.
func MakeInternalKey(userKey []byte, seqNum SeqNum, kind InternalKeyKind) InternalKey {
	return InternalKey{UserKey: userKey, Trailer: MakeTrailer(seqNum, kind)}
}

// MakeSearchKey constructs an internal key suitable for searching for the
// given user key: it sorts before any real internal key sharing that user
// key, since it carries the maximal trailer.
func MakeSearchKey(userKey []byte) InternalKey {
	return MakeInternalKey(userKey, SeqNumMax, InternalKeyKindMax)
}

// InternalKV is a single internal key/value pair as stored in a chunk.
type InternalKV struct {
	K InternalKey
	V []byte
}

// Kind returns the KV's internal key kind.
func (kv *InternalKV) Kind() InternalKeyKind {
	return kv.K.Trailer.Kind()
}

// SeqNum returns the KV's internal key sequence number.
func (kv *InternalKV) SeqNum() SeqNum {
	return kv.K.Trailer.SeqNum()
}
