package bootstrap

import (
	"errors"
	"fmt"
)

// Kind classifies a startup failure.
type Kind int

const (
	// KindStoreCreateConflict is a create that found an existing store. Start
	// recovers from it by opening that store; it is never returned.
	KindStoreCreateConflict Kind = iota + 1
	KindStoreCreate
	KindStoreOpen
	KindCacheBuild
	KindAddressBookLoad
	KindDiscovery
	KindNetworkConnect
	KindDataDirLock
)

func (k Kind) String() string {
	switch k {
	case KindStoreCreateConflict:
		return "store create conflict"
	case KindStoreCreate:
		return "store create failure"
	case KindStoreOpen:
		return "store open failure"
	case KindCacheBuild:
		return "cache build failure"
	case KindAddressBookLoad:
		return "address book load failure"
	case KindDiscovery:
		return "bootstrap discovery failure"
	case KindNetworkConnect:
		return "network connect failure"
	case KindDataDirLock:
		return "data directory lock failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Process exit statuses for startup outcomes.
const (
	ExitOK       = 0
	ExitReported = 1
	ExitAbort    = 2
)

// Error is a classified startup failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the classification of err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// ExitCode maps a startup result to the process exit status. An address book
// that cannot be loaded is a reported failure; everything else aborts.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if kind, ok := KindOf(err); ok && kind == KindAddressBookLoad {
		return ExitReported
	}
	return ExitAbort
}
