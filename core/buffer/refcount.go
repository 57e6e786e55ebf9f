// File: core/buffer/refcount.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Helpers for messages that may or may not be reference-counted. Pipelines
// carry arbitrary values; only those implementing ReferenceCounted own
// resources that must be released.

package buffer

import (
	"go.uber.org/multierr"

	"github.com/momentics/hioload-net/internal/logging"
)

// ReferenceCounted is implemented by messages that own pooled resources.
type ReferenceCounted interface {
	RefCnt() int
	IncRef() error
	Release() (bool, error)
}

// Release releases msg when it is reference-counted. Other values are a
// no-op reporting false.
func Release(msg any) (bool, error) {
	if rc, ok := msg.(ReferenceCounted); ok {
		return rc.Release()
	}
	return false, nil
}

// Retain adds a reference to msg when it is reference-counted.
func Retain(msg any) error {
	if rc, ok := msg.(ReferenceCounted); ok {
		return rc.IncRef()
	}
	return nil
}

// SafeRelease releases msg and logs instead of returning a failure. It is
// used on teardown paths where the caller cannot act on the error.
func SafeRelease(msg any) {
	if _, err := Release(msg); err != nil {
		l := logging.For("buffer")
		l.Warn().Err(err).Type("msg", msg).Msg("failed to release message")
	}
}

// ReleaseAll releases every message and aggregates the failures.
func ReleaseAll(msgs ...any) error {
	var errs error
	for _, m := range msgs {
		if _, err := Release(m); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
