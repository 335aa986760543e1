// Package security holds the startup guard that keeps the daemon from
// running as root.
package security

import "errors"

// ErrRunningAsRoot is returned when the process effective user ID is 0.
var ErrRunningAsRoot = errors.New("refusing to run as root: run as a non-root user for security")

// effectiveUIDGetter is replaced by init in root_unix.go; the non-Unix
// default reports -1, which never matches root.
var effectiveUIDGetter func() int = defaultEUID

func defaultEUID() int { return -1 }

// EffectiveUIDGetter returns the platform effective-UID getter for use with
// RequireNonRoot.
func EffectiveUIDGetter() func() int {
	return effectiveUIDGetter
}

// RequireNonRoot fails when the getter reports euid 0. Callers pass a getter
// (EffectiveUIDGetter() in production, a stub in tests) so the check stays
// testable without actually running as root.
func RequireNonRoot(euidGetter func() int) error {
	if euidGetter == nil {
		return nil
	}
	if euidGetter() == 0 {
		return ErrRunningAsRoot
	}
	return nil
}
