package artifact

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classifying artifact storage failures.
var (
	// ErrPermissionDenied is a local permission failure (EACCES).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is a missing object or file (ENOENT, 404, NoSuchKey).
	ErrNotFound = errors.New("not found")

	// ErrDiskFull is an exhausted storage quota (ENOSPC).
	ErrDiskFull = errors.New("no space left on device")

	// ErrTimeout is an operation that timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrThrottled is provider rate limiting (429, SlowDown).
	ErrThrottled = errors.New("rate limited")

	// ErrAuth is an authentication failure (missing or expired credentials).
	ErrAuth = errors.New("authentication failed")

	// ErrAccessDenied is an authorization failure with valid credentials.
	ErrAccessDenied = errors.New("access denied")

	// ErrNetwork is a network-level failure (connection refused, DNS).
	ErrNetwork = errors.New("network error")

	// ErrUnclassified is any other storage failure.
	ErrUnclassified = errors.New("storage error")
)

// StorageError wraps an artifact storage failure with its classification.
type StorageError struct {
	// Kind is one of the sentinel errors above.
	Kind error
	// Op is the failed operation: create, open, delete, stat.
	Op string
	// Key is the artifact key involved, if any.
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("artifact %s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("artifact %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches the classification sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapError classifies err. It returns nil for a nil err and leaves an
// existing *StorageError untouched.
func wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Kind: classifyError(err), Op: op, Key: key, Err: err}
}

// classifyError maps an error to a sentinel by type, then by message.
func classifyError(err error) error {
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission denied", "eacces", "access denied"):
		if containsAny(msg, "accessdenied", "forbidden", "403") {
			return ErrAccessDenied
		}
		return ErrPermissionDenied
	case containsAny(msg, "no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "object doesn't exist"):
		return ErrNotFound
	case containsAny(msg, "no space left", "disk full", "enospc", "quota exceeded"):
		return ErrDiskFull
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ErrTimeout
	case containsAny(msg, "slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"):
		return ErrThrottled
	case containsAny(msg, "nocredentialproviders", "credentials", "invalidaccesskeyid",
		"signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"):
		return ErrAuth
	case containsAny(msg, "accessdenied", "forbidden", "403"):
		return ErrAccessDenied
	case containsAny(msg, "connection refused", "no route to host", "network unreachable",
		"dns", "dial tcp"):
		return ErrNetwork
	default:
		return ErrUnclassified
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
