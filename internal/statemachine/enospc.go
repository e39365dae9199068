package statemachine

import (
	"errors"
	"syscall"
)

// isENOSPC reports whether err wraps a "no space left on device" condition.
func isENOSPC(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ENOSPC
	}
	return false
}
