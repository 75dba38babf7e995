package lsm

import "errors"

// Sentinel errors covering the domain-level taxonomy of spec.md §6/§7:
// configuration, not-found, busy/exists, invariant-violation. I/O errors
// are wrapped from the schema/metadata service rather than given their own
// sentinel, matching spec.md's "io — delegated from the schema/metadata
// service".
var (
	// ErrExists is returned by Create(exclusive) on a name already present
	// in the registry or the metadata catalog.
	ErrExists = errors.New("lsm: tree exists")

	// ErrBusy is returned by an exclusive Get while the tree is referenced.
	ErrBusy = errors.New("lsm: tree busy")

	// ErrNotFound is returned for operations on an unknown tree or chunk
	// URI.
	ErrNotFound = errors.New("lsm: not found")

	// ErrInvalid is the package's sentinel for invalid input. Nothing in
	// this package returns it: configuration violations are reported with
	// lsmconfig.ErrInvalid and unrecognized projection ops with
	// project.ErrInvalidArg.
	ErrInvalid = errors.New("lsm: invalid")

	// ErrInvariant marks a fatal internal invariant violation (e.g. an
	// ON_DISK chunk found in the primary slot). Once set on a tree, every
	// subsequent operation on it fails with this sentinel (spec.md §7).
	ErrInvariant = errors.New("lsm: invariant violation")
)
