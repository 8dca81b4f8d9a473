// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// RunLock prevents two canary runs from mutating the same tenant at
// once.
//
// # Description
//
// Uses a non-blocking flock(2) on {dir}/adcanary-{tenant}.lock plus a
// PID file for diagnostics. The lock is advisory and per-tenant: two
// tenants may run canaries concurrently, but a second run against the
// same tenant fails fast with the holder's PID.
//
// # Limitations
//
//   - Advisory only; does not survive NFS reliably
//   - The OS releases the flock on crash, but the PID file may go stale
//
// # Thread Safety
//
// Not safe for concurrent use; acquire and release from one goroutine.
type RunLock struct {
	lockPath string
	pidPath  string
	file     *os.File
	held     bool
}

// NewRunLock creates a lock for the tenant under dir. An empty dir uses
// the system temp directory.
func NewRunLock(dir, tenant string) *RunLock {
	if dir == "" {
		dir = os.TempDir()
	}
	base := filepath.Join(dir, "adcanary-"+tenant)
	return &RunLock{
		lockPath: base + ".lock",
		pidPath:  base + ".pid",
	}
}

// Acquire takes the lock or returns an error naming the holder.
func (l *RunLock) Acquire() error {
	if l.held {
		return nil
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("create lock file %s: %w", l.lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			if pid := l.holderPID(); pid > 0 {
				return fmt.Errorf("another canary run holds the lock for this tenant (PID %d); if stale, remove %s", pid, l.pidPath)
			}
			return fmt.Errorf("another canary run holds the lock for this tenant (check: lsof %s)", l.lockPath)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	l.file = f
	l.held = true
	// PID file is best-effort; the flock is the actual lock.
	os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	return nil
}

// Release drops the lock. Safe to call repeatedly or unacquired.
func (l *RunLock) Release() error {
	if !l.held || l.file == nil {
		return nil
	}
	os.Remove(l.pidPath)
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
	l.held = false
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Held reports whether this process holds the lock.
func (l *RunLock) Held() bool {
	return l.held
}

func (l *RunLock) holderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
