// Package verrors collects the sentinel errors of the replication
// coordinator so that callers can classify failures with errors.Is rather
// than string matching.
package verrors

import "errors"

var (
	// ErrMalformedLogEntry is returned by the log entry codec when the
	// header version is unknown or the framing is otherwise invalid.
	ErrMalformedLogEntry = errors.New("repltree: malformed log entry")

	// ErrMetadataMismatch is returned at bootstrap when the coordinator's
	// metadata znode does not match this replica's local table definition
	// character-for-character.
	ErrMetadataMismatch = errors.New("repltree: metadata mismatch")

	// ErrUnknownIdentifier classifies a column referenced by the local
	// table configuration that cannot be resolved. No code in this module
	// returns it.
	ErrUnknownIdentifier = errors.New("repltree: unknown identifier")

	// ErrReplicaAlreadyActive is returned by activateReplica when another
	// live session already holds this replica's is_active node.
	ErrReplicaAlreadyActive = errors.New("repltree: replica is already active")

	// ErrTooManyUnexpectedParts is returned by checkParts when local/
	// coordinator divergence exceeds the sanity thresholds and no
	// force-restore flag is present.
	ErrTooManyUnexpectedParts = errors.New("repltree: too many unexpected parts")

	// ErrNoReplicaHasPart is a transient error: no active peer currently
	// holds the part a GET_PART entry asked for.
	ErrNoReplicaHasPart = errors.New("repltree: no replica has part")

	// ErrChecksumMismatch is fatal for the part being registered.
	ErrChecksumMismatch = errors.New("repltree: checksum mismatch")

	// ErrCoordinatorUnavailable classifies a coordinator that cannot be
	// reached. replica.New does not return it: it returns a permanently
	// read-only replica instead.
	ErrCoordinatorUnavailable = errors.New("repltree: coordinator unavailable")

	// ErrReadOnly is returned by write paths while the replica is in
	// read-only mode.
	ErrReadOnly = errors.New("repltree: table is read-only")

	// ErrNotFound covers missing coordinator nodes and missing local
	// parts alike.
	ErrNotFound = errors.New("repltree: not found")

	// ErrAlreadyExists covers coordinator create calls racing an existing
	// node, e.g. is_active or the table metadata znode.
	ErrAlreadyExists = errors.New("repltree: already exists")

	// ErrStopped classifies work refused once shutdown has been requested.
	// No code in this module returns it; the long-lived loops and the
	// worker pool simply exit.
	ErrStopped = errors.New("repltree: stopped")
)
