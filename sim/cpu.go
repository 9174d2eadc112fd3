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

package sim

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rich1111/splitcore"
)

const (
	// BufferSize is the kernel core's message buffer at the top of its window.
	BufferSize = 0x1000

	haltTimeout = 2 * time.Second
)

// CPU is the simulated kernel core. It is also its own reset register:
// storing zero releases it, anything else holds it in reset.
type CPU struct {
	mem     splitcore.Memory
	mailbox splitcore.Register
	layout  splitcore.Layout
	spin    splitcore.Spinner

	mu     sync.Mutex
	held   bool
	cancel context.CancelFunc
	done   chan struct{}
	runs   int
	err    error
}

// NewCPU returns a kernel core held in reset.
func NewCPU(mem splitcore.Memory, mailbox splitcore.Register, l splitcore.Layout, spin splitcore.Spinner) *CPU {
	if spin == nil {
		spin = splitcore.Forever
	}
	return &CPU{mem: mem, mailbox: mailbox, layout: l, spin: spin, held: true}
}

func (c *CPU) Load() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		return 1
	}
	return 0
}

func (c *CPU) Store(v uint32) {
	if v != 0 {
		c.Halt()
		return
	}
	c.release()
}

// Halt holds the core in reset and waits for the running program to stop.
func (c *CPU) Halt() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.held, c.cancel, c.done = true, nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(haltTimeout):
		log.Printf("sim: kernel core did not halt within %s", haltTimeout)
	}
}

func (c *CPU) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.held, c.cancel, c.done = false, cancel, done
	c.runs++
	c.err = nil
	go func() {
		defer close(done)
		err := c.run(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("sim: kernel core: %v", err)
		}
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
	}()
}

// Wait blocks until the current program returns or ctx is done.
func (c *CPU) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns how the last program ended.
func (c *CPU) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Runs returns the number of times the core has been released.
func (c *CPU) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// spinner abandons waits once the core is put back in reset.
func (c *CPU) spinner(ctx context.Context) splitcore.Spinner {
	return splitcore.SpinFunc(func(n int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return c.spin.Spin(n)
	})
}

func (c *CPU) run(ctx context.Context) error {
	script, err := readImage(c.mem, c.layout)
	if err != nil {
		return err
	}
	buf := c.layout.LastAddress + 1 - BufferSize
	if c.layout.ExecAddress+uint32(len(script)) > buf {
		return fmt.Errorf("sim: script of %d bytes overlaps the message buffer", len(script))
	}
	ch := splitcore.NewChannel(c.mailbox, splitcore.NoCache{})
	client, err := splitcore.NewClient(ch, c.mem, buf, BufferSize, c.spinner(ctx))
	if err != nil {
		return err
	}
	return RunScript(ctx, client, "kernel", script)
}
