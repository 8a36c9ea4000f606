package gc

import "errors"

var (
	// ErrStackOverflow is returned when a root is pushed onto a full root stack.
	ErrStackOverflow = errors.New("root stack overflow")

	// ErrStackUnderflow is returned when a pop or pair needs more roots than exist.
	ErrStackUnderflow = errors.New("root stack underflow")

	// ErrAllocationFailure is returned when the heap cannot provide a new slot
	// even after a collection.
	ErrAllocationFailure = errors.New("allocation failure")

	// ErrStaleRef is returned for a handle whose slot has been reclaimed.
	ErrStaleRef = errors.New("stale object reference")

	// ErrCollectionInProgress is returned when the heap is entered while a
	// cycle is running (for example from an observer).
	ErrCollectionInProgress = errors.New("collection in progress")

	// ErrHeapReleased is returned by every operation after Teardown.
	ErrHeapReleased = errors.New("heap released")
)
