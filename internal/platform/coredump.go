//go:build linux || darwin

package platform

import "golang.org/x/sys/unix"

// DisableCoreDumps keeps derived keys and decrypted private keys out of any
// core file this process might otherwise leave behind.
func DisableCoreDumps() error {
	var rlim unix.Rlimit
	rlim.Cur = 0
	rlim.Max = 0
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
