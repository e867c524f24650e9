package model

import "fmt"

// MalformedDocumentError marks a document that can never be ingested as-is.
// Content is immutable under its digest, so the orchestrator records the
// failure instead of retrying.
type MalformedDocumentError struct {
	Reason string
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed document: %s", e.Reason)
}

// StorageUnavailableError is transient: the document stays pending and the
// caller's schedule retries it.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Err
}

// IdentityAmbiguousError reports a single document asserting two different
// real-world packages under one canonicalized identity. Merging them would
// silently conflate packages, so the document fails instead.
type IdentityAmbiguousError struct {
	Identity string
	A, B     string
}

func (e *IdentityAmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous package identity %s: declared as both %q and %q", e.Identity, e.A, e.B)
}
