// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package iosafe reads small numeric sysfs/procfs files without risking a
// goroutine hang: some hwmon and powercap drivers occasionally return
// EAGAIN forever to a blocking read. A Reader opens its file O_NONBLOCK and
// waits for readiness with a bounded poll instead of trusting the kernel to
// make progress, following the direct-syscall pattern kepler uses for
// hwmon reads.
package iosafe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const maxReadBytes = 64

// Reader reads a decimal unsigned integer from a single file, guarding
// against blocking or stuck reads.
type Reader struct {
	path string
	fd   int
	open bool
}

// New constructs a Reader for path, opening it non-blocking immediately.
func New(path string) (*Reader, error) {
	r := &Reader{path: path}
	if err := r.open_(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) open_() error {
	fd, err := unix.Open(r.path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", r.path, err)
	}
	r.fd = fd
	r.open = true
	return nil
}

// ReadU64WithTimeout seeks to zero, waits up to timeout for the file to
// become readable, reads up to 64 bytes and parses a decimal integer.
// On timeout, read error, or parse failure the handle is invalidated
// (Reopen must be called before reuse) and ok is false.
func (r *Reader) ReadU64WithTimeout(timeout time.Duration) (value uint64, ok bool) {
	if !r.open {
		return 0, false
	}

	if _, err := unix.Seek(r.fd, 0, 0); err != nil {
		r.invalidate()
		return 0, false
	}

	if !r.waitReadable(timeout) {
		r.invalidate()
		return 0, false
	}

	buf := make([]byte, maxReadBytes)
	n, err := unix.Read(r.fd, buf)
	if err != nil || n <= 0 {
		r.invalidate()
		return 0, false
	}

	text := strings.TrimSpace(string(buf[:n]))
	parsed, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		r.invalidate()
		return 0, false
	}

	return parsed, true
}

// waitReadable polls the file descriptor for read-readiness, returning
// false if timeout elapses first or the poll itself fails.
func (r *Reader) waitReadable(timeout time.Duration) bool {
	fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil || n == 0 {
		return false
	}
	return fds[0].Revents&unix.POLLIN != 0
}

func (r *Reader) invalidate() {
	if r.open {
		_ = unix.Close(r.fd)
	}
	r.open = false
}

// Valid reports whether the underlying file handle is still open.
func (r *Reader) Valid() bool {
	return r.open
}

// Reopen re-opens the file non-blocking after invalidation.
func (r *Reader) Reopen() error {
	if r.open {
		return nil
	}
	return r.open_()
}

// Close releases the underlying file descriptor.
func (r *Reader) Close() error {
	if !r.open {
		return nil
	}
	err := unix.Close(r.fd)
	r.open = false
	return err
}
