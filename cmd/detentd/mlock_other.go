//go:build !linux

package main

import "errors"

func lockMemory() error {
	return errors.New("runtime.lock_memory is only supported on linux")
}
