package sync

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// ErrorKind buckets errors by how the sync core reacts to them.
type ErrorKind int

const (
	// KindUnknown covers anything unclassified. Surfaced, not retried.
	KindUnknown ErrorKind = iota
	// KindUser is bad input; only the caller can fix it. Not retried.
	KindUser
	// KindSystem is a local I/O or database failure. Not retried,
	// surfaced as requiring manual intervention.
	KindSystem
	// KindTransient is a connection/timeout class failure against the
	// remote. Retried with exponential backoff.
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindSystem:
		return "system"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ErrValidation marks user/validation failures.
var ErrValidation = errors.New("validation failed")

var transientFragments = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"broken pipe",
	"temporarily unavailable",
	"tls handshake",
	"no such host",
}

// Classify maps an error to its handling kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, ErrValidation) {
		return KindUser
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) {
		return KindTransient
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return KindSystem
	}

	// Remote transports that shell out lose typed errors; fall back to
	// message matching for the common transient signatures.
	msg := strings.ToLower(err.Error())
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return KindTransient
		}
	}
	if strings.Contains(msg, "database") || strings.Contains(msg, "sql") {
		return KindSystem
	}

	return KindUnknown
}

// Retryable reports whether the error is worth retrying at all.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}
