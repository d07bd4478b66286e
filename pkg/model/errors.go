package model

import "fmt"

// InputError reports empty or otherwise unusable text or arguments.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Reason
}

// ProviderError wraps a failure of the upstream embedding provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "embedding provider failure: " + e.Provider
	}
	return fmt.Sprintf("embedding provider failure: %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DimensionMismatchError reports vectors whose length differs from the expected one.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// CapacityExceededError is returned when a collection has no free index slot left.
// Capacity is fixed at creation; tombstoned slots are reclaimed only by compaction.
type CapacityExceededError struct {
	OwnerID  string
	Capacity int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("collection capacity exceeded: owner=%s capacity=%d", e.OwnerID, e.Capacity)
}

// PersistenceError wraps a failure while writing or reading collection artifacts.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("persistence failure: %s %s", e.Op, e.Key)
	}
	return fmt.Sprintf("persistence failure: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
