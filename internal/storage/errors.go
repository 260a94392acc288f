package storage

import (
	"fmt"
	"strings"
)

// TransientStorageError wraps a storage failure the caller should retry —
// a CockroachDB "restart transaction" signal or equivalent. The session
// writer and recall engine already retry these internally (spec.md §4.6,
// §4.7); this is what they surface once that retry budget is spent.
type TransientStorageError struct {
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("storage: transient error: %v", e.Err)
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

// PermanentStorageError wraps any non-transient failure during a
// transaction. On the request path it propagates to the caller; on the
// augmentation path it is logged and swallowed (spec.md §7).
type PermanentStorageError struct {
	Err error
}

func (e *PermanentStorageError) Error() string {
	return fmt.Sprintf("storage: error: %v", e.Err)
}

func (e *PermanentStorageError) Unwrap() error { return e.Err }

// IsRestartTransaction reports whether err carries a CockroachDB
// serializable-conflict signal, the one storage failure the write and
// recall paths retry automatically instead of surfacing immediately.
func IsRestartTransaction(err error) bool {
	return err != nil && strings.Contains(err.Error(), "restart transaction")
}

// Classify wraps a storage error that has exhausted its retry budget (or
// never qualified for one) as *TransientStorageError or
// *PermanentStorageError, so callers can distinguish the two with
// errors.As instead of string-matching.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsRestartTransaction(err) {
		return &TransientStorageError{Err: err}
	}
	return &PermanentStorageError{Err: err}
}
