package safego

import "context"

// Tag is a key/value pair carried by panic reports. Order is preserved.
type Tag struct {
	Key   string
	Value string
}

// PanicHandler is called when a function panics (subject to policy).
type PanicHandler func(ctx context.Context, info PanicInfo)

// PanicInfo describes a recovered panic.
type PanicInfo struct {
	Name  string
	Tags  []Tag
	Value any
	Stack []byte
}

// PanicPolicy controls how panics are handled.
type PanicPolicy int

const (
	// RecoverAndReport recovers the panic and reports it.
	RecoverAndReport PanicPolicy = iota
	// RecoverOnly recovers the panic without reporting it.
	RecoverOnly
	// RepanicAfterReport reports the panic, then panics again with the same value.
	RepanicAfterReport
)

func (p PanicPolicy) String() string {
	switch p {
	case RecoverAndReport:
		return "recover-and-report"
	case RecoverOnly:
		return "recover-only"
	case RepanicAfterReport:
		return "repanic-after-report"
	default:
		return "unknown"
	}
}
