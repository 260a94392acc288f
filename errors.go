package memori

import (
	"fmt"

	"github.com/memori-go/memori/internal/interceptor"
	"github.com/memori-go/memori/internal/storage"
)

// ConfigurationError signals invalid attribution inputs or a missing
// connection factory — always fatal at the call site.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("memori: configuration error: %s", e.Reason)
}

// TransientStorageError wraps a storage failure the caller should retry —
// a CockroachDB "restart transaction" signal or equivalent. This is an
// alias for the type the session writer and recall engine actually
// construct once their own internal retry budget (spec.md §4.6, §4.7) is
// spent, so errors.As against memori.TransientStorageError matches it.
type TransientStorageError = storage.TransientStorageError

// PermanentStorageError wraps any non-transient failure during a
// transaction. On the request path it propagates to the caller; on the
// augmentation path it is logged and swallowed. Alias for the type the
// session writer and recall engine construct.
type PermanentStorageError = storage.PermanentStorageError

// AugmentationError is a typed wrapper for a failure inside a single
// augmentation task. The worker pool does not construct it: it logs such
// failures as they are, and they never disable the pool.
type AugmentationError struct {
	Augmentation string
	Err          error
}

func (e *AugmentationError) Error() string {
	return fmt.Sprintf("memori: augmentation %q failed: %v", e.Augmentation, e.Err)
}

func (e *AugmentationError) Unwrap() error { return e.Err }

// ProviderInterceptError signals that a provider payload could not be
// parsed by any registered LLM adapter, or yielded nothing persistable.
// Alias for the type the interceptor constructs (spec.md §7).
type ProviderInterceptError = interceptor.ProviderInterceptError
