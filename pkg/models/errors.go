package models

import "errors"

// Error taxonomy shared by the stores, the reconciler and the repository.
// Callers classify with errors.Is; the concrete cause is wrapped in.
var (
	// ErrIdentityUnresolvable means a record reached the identity
	// resolver with no identifier fields and an empty correct phrase.
	// Validation should make this unreachable.
	ErrIdentityUnresolvable = errors.New("knowledge point identity unresolvable")

	// ErrLocalPersistence means an on-device read or write failed.
	// The operation is aborted and prior state is retained.
	ErrLocalPersistence = errors.New("local persistence failure")

	// ErrRemoteRejected means the remote store refused the request
	// (validation failure). Not retried automatically.
	ErrRemoteRejected = errors.New("remote store rejected request")

	// ErrRemoteUnreachable means the remote store could not be reached.
	// Promotions are retried on the next sync trigger; direct user
	// actions surface it to the caller.
	ErrRemoteUnreachable = errors.New("remote store unreachable")

	// ErrNotFound means no record carries the requested effective ID.
	ErrNotFound = errors.New("knowledge point not found")
)
