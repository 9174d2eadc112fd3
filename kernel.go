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
	"fmt"
	"log"

	"github.com/google/uuid"
)

// Status is the run state of the kernel core.
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "Stopped"
	case StatusRunning:
		return "Running"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Reset line values. The kernel core runs while its reset is released.
const (
	resetReleased = 0
	resetAsserted = 1
)

// Resetter is the state reinitialised whenever the kernel core starts or stops.
type Resetter interface {
	Reset()
}

// KernelConfig holds the collaborators of a Kernel.
type KernelConfig struct {
	Memory  Memory
	Reset   Register
	Channel *Channel
	Layout  Layout
	Image   []byte
	Tunnel  Resetter
}

// Kernel loads, starts and stops the kernel core.
type Kernel struct {
	mem    Memory
	reset  Register
	ch     *Channel
	layout Layout
	image  []byte
	tunnel Resetter
	runID  uuid.UUID
}

// NewKernel returns a manager for the kernel core. The core is stopped,
// so the first Start always loads a fresh image.
func NewKernel(cfg KernelConfig) (*Kernel, error) {
	if err := cfg.Layout.Check(); err != nil {
		return nil, err
	}
	k := &Kernel{
		mem:    cfg.Memory,
		reset:  cfg.Reset,
		ch:     cfg.Channel,
		layout: cfg.Layout,
		tunnel: cfg.Tunnel,
	}
	k.Stop()
	if err := k.Load(cfg.Image); err != nil {
		return nil, err
	}
	return k, nil
}

// Load replaces the image copied on the next Start.
// If the kernel core is currently running, it is stopped first.
func (k *Kernel) Load(image []byte) error {
	if uint64(len(image)) > uint64(k.layout.KernelSize()) {
		return fmt.Errorf("%d byte image: %w", len(image), ErrImageTooLarge)
	}
	if k.Status() == StatusRunning {
		k.Stop()
	}
	k.image = image
	return nil
}

// Status reads the reset line.
func (k *Kernel) Status() Status {
	if k.reset.Load() == resetReleased {
		return StatusRunning
	}
	return StatusStopped
}

// RunID identifies the current or most recent run.
func (k *Kernel) RunID() uuid.UUID {
	return k.runID
}

// Start copies the image to the kernel window and releases the kernel core.
// Starting a running core is a programming error; the returned
// ErrAlreadyRunning must not be retried.
func (k *Kernel) Start() error {
	if k.Status() == StatusRunning {
		return ErrAlreadyRunning
	}
	if err := k.mem.WriteAt(k.image, k.layout.LoadAddress()); err != nil {
		return fmt.Errorf("load kernel image: %w", err)
	}
	// The kernel core's first message must not be lost to the reinitialisation.
	if k.tunnel != nil {
		k.tunnel.Reset()
	}
	k.ch.publish()
	k.runID = uuid.New()
	k.reset.Store(resetReleased)
	log.Printf("kernel core started, run %s, %d byte image at 0x%08x", k.runID, len(k.image), k.layout.LoadAddress())
	return nil
}

// Stop holds the kernel core in reset and abandons any exchange in progress.
// It may be called at any time.
func (k *Kernel) Stop() {
	running := k.Status() == StatusRunning
	k.reset.Store(resetAsserted)
	k.ch.Acknowledge()
	if k.tunnel != nil {
		k.tunnel.Reset()
	}
	if running {
		log.Printf("kernel core stopped, run %s", k.runID)
	}
}

// Validate reports whether ptr lies in the memory owned by the kernel core.
// Pointers failing it must never be dereferenced.
func (k *Kernel) Validate(ptr uint32) bool {
	return k.layout.Validate(ptr)
}
