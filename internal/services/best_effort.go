package services

import "strings"

// Backend names the store an artifact actually landed in.
type Backend string

const (
	BackendDurable  Backend = "durable-store"
	BackendFallback Backend = "local-fallback"
	BackendNone     Backend = "none"
)

// ErrorAddressScheme marks an address that was never stored anywhere.
const ErrorAddressScheme = "error://"

func IsErrorAddress(addr string) bool {
	return strings.HasPrefix(addr, ErrorAddressScheme)
}

// BestEffort is the outcome of a side effect the primary operation does not
// depend on. Attempted is false when the side effect was skipped.
type BestEffort struct {
	Attempted bool
	Err       error
}

func (b BestEffort) OK() bool { return b.Attempted && b.Err == nil }

// PersistResult separates where the payload went from what happened to the
// relational index afterwards.
type PersistResult struct {
	Address      string
	Backend      Backend
	Key          string
	Body         []byte
	Document     *ConsolidatedJourneyDocument
	Deduplicated bool
	Index        BestEffort
}

// Stored reports whether Address can be dereferenced.
func (r *PersistResult) Stored() bool {
	return r != nil && r.Address != "" && !IsErrorAddress(r.Address)
}
