//go:build !windows

package jsondb

// transientRenameError is always false off Windows: POSIX rename replaces
// the destination even while other descriptors hold it open.
func transientRenameError(error) bool {
	return false
}
