//go:build linux

package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// lockMemory pins current and future pages so a tick never waits on a page
// fault. Needs CAP_IPC_LOCK or a large enough RLIMIT_MEMLOCK.
func lockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}
