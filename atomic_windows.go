//go:build windows

package jsondb

import (
	"errors"

	"golang.org/x/sys/windows"
)

// transientRenameError reports rename failures caused by another handle
// holding the destination open (antivirus, indexers, a concurrent reader).
func transientRenameError(err error) bool {
	var errno windows.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case windows.ERROR_ACCESS_DENIED, windows.ERROR_SHARING_VIOLATION, windows.ERROR_LOCK_VIOLATION:
		return true
	}
	return false
}
