// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package splitcore

import (
	"errors"
	"fmt"
)

var (
	// ErrFatal matches every error after which the kernel core must be stopped.
	ErrFatal = errors.New("fatal kernel core error")

	ErrAlreadyRunning     = fmt.Errorf("kernel core already running: %w", ErrFatal)
	ErrWatchdogExpired    = fmt.Errorf("watchdog expired: %w", ErrFatal)
	ErrImageTooLarge      = errors.New("kernel image does not fit the kernel window")
	ErrBorrowed           = errors.New("cache entry is borrowed")
	ErrWatchdogsExhausted = errors.New("all watchdogs are in use")
	ErrNoSuchBus          = errors.New("bus could not be accessed")
	ErrTimeout            = errors.New("timed out waiting for the peer")
)

// ProtocolError reports a message the receiver did not expect.
// The channel state can no longer be trusted.
type ProtocolError struct {
	Got    Tag
	Expect Tag
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Reason != "" {
		return "protocol violation: " + e.Reason
	}
	return fmt.Sprintf("protocol violation: got %s, expected %s", e.Got, e.Expect)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrFatal }

// SandboxError reports a pointer from the kernel core outside its window.
type SandboxError struct {
	Ptr uint32
	Len uint32
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("kernel pointer 0x%08x+%d outside the kernel window", e.Ptr, e.Len)
}

func (e *SandboxError) Is(target error) bool { return target == ErrFatal }
