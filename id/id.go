// Package id generates identifiers for jobs and workers.
//
// Job ids are opaque strings to the store: callers may bring their own. When
// the store assigns one it is a TypeID ("prefix_suffix"), K-sortable
// (UUIDv7-based), globally unique, and URL-safe, so natural insertion order
// and id order agree.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a generated id.
type Prefix string

const (
	PrefixJob    Prefix = "job"
	PrefixWorker Prefix = "wkr"
)

// New generates a new globally unique id with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// NewJobID generates a new unique job id.
func NewJobID() string { return New(PrefixJob) }

// NewWorkerID generates a new unique worker id.
func NewWorkerID() string { return New(PrefixWorker) }

// PrefixOf parses s as a TypeID and returns its prefix. Ids supplied by
// callers need not be TypeIDs; for those PrefixOf returns an error.
func PrefixOf(s string) (Prefix, error) {
	if s == "" {
		return "", fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("id: parse %q: %w", s, err)
	}
	return Prefix(tid.Prefix()), nil
}
