package controller

import (
	"fmt"
	"strings"
)

// TimeoutError is returned when an attempt budget is exhausted while waiting for a state.
type TimeoutError struct {
	// Awaited names the state that was not reached.
	Awaited string
	// Attempts is the exhausted budget.
	Attempts int
	// Last is the last observed status, empty if none was queried.
	Last string
}

func (e *TimeoutError) Error() string {
	if e.Last == "" {
		return fmt.Sprintf("waiting for %s did not complete in time (%d attempts)", e.Awaited, e.Attempts)
	}
	return fmt.Sprintf("waiting for %s did not complete in time (%d attempts, last status %s)", e.Awaited, e.Attempts, e.Last)
}

// NoPathError is returned when no active path to a disk was found within the scan budget.
type NoPathError struct {
	UDID    string
	Address string
	Devices []string
	Scans   int
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("no active FCP path found on %s for udid %s using devices %s after %d scans",
		e.Address, e.UDID, strings.Join(e.Devices, ","), e.Scans)
}

// TriggerError is returned when an asynchronous operation was not triggered within its retry budget.
type TriggerError struct {
	Operation  string
	Attempts   int
	StatusCode int
	Status     string
	Err        error
}

func (e *TriggerError) Error() string {
	msg := fmt.Sprintf("%s failed after %d attempts", e.Operation, e.Attempts)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: last response http %d, status %q", msg, e.StatusCode, e.Status)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}
