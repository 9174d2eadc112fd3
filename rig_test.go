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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// A small kernel window keeps the test machines cheap.
var testLayout = Layout{
	ExecAddress:    KernelCPUExecAddress,
	LastAddress:    KernelCPUExecAddress + 0x3fff,
	HeaderSize:     KSupportHeaderSize,
	MailboxBase:    MailboxBase,
	ResetAddress:   ResetAddress,
	ScratchAddress: ScratchAddress,
	ScratchSize:    0x1000,
}

const (
	testBuf     = KernelCPUExecAddress + 0x3000
	testBufSize = 0x1000
)

type fakeClock struct {
	mu sync.Mutex
	ms uint64
}

func (c *fakeClock) NowMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *fakeClock) advance(ms uint64) {
	c.mu.Lock()
	c.ms += ms
	c.mu.Unlock()
}

type recorder struct {
	finished int
	raised   []Exception
	expired  []int
}

func (r *recorder) Finished()              { r.finished++ }
func (r *recorder) Exception(x Exception)  { r.raised = append(r.raised, x) }
func (r *recorder) WatchdogExpired(id int) { r.expired = append(r.expired, id) }

type fakeI2C struct {
	buses  int
	writes []byte
	ack    bool
	data   byte
	starts int
}

func (f *fakeI2C) check(bus int) error {
	if bus < 0 || bus >= f.buses {
		return busErr("i2c", bus)
	}
	return nil
}

func (f *fakeI2C) Start(bus int) error {
	f.starts++
	return f.check(bus)
}

func (f *fakeI2C) Restart(bus int) error { return f.check(bus) }
func (f *fakeI2C) Stop(bus int) error    { return f.check(bus) }

func (f *fakeI2C) Write(bus int, data byte) (bool, error) {
	if err := f.check(bus); err != nil {
		return false, err
	}
	f.writes = append(f.writes, data)
	return f.ack, nil
}

func (f *fakeI2C) Read(bus int, ack bool) (byte, error) {
	if err := f.check(bus); err != nil {
		return 0, err
	}
	return f.data, nil
}

// rig is both cores sharing memory and a mailbox in one goroutine: every
// time the client would wait, the service polls once.
type rig struct {
	kernel  *Region
	scratch *Region
	mem     PhysMem
	mailbox *AtomicRegister
	reset   *AtomicRegister
	clock   *fakeClock
	events  *recorder
	cache   *Cache
	i2c     *fakeI2C
	svc     *Service
	client  *Client
	kch     *Channel
	comms   *Channel
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		kernel:  NewRegion(testLayout.LoadAddress(), testLayout.KernelSize()),
		scratch: NewRegion(testLayout.ScratchAddress, testLayout.ScratchSize),
		mailbox: NewAtomicRegister(0),
		reset:   NewAtomicRegister(resetAsserted),
		clock:   &fakeClock{},
		events:  &recorder{},
		cache:   NewCache(),
		i2c:     &fakeI2C{buses: 1, ack: true},
	}
	r.mem = PhysMem{r.kernel, r.scratch}
	r.comms = NewChannel(r.mailbox, nil)
	r.kch = NewChannel(r.mailbox, nil)
	r.svc = NewService(ServiceConfig{
		Channel:   r.comms,
		Memory:    r.mem,
		Layout:    testLayout,
		I2C:       r.i2c,
		Cache:     r.cache,
		Watchdogs: NewWatchdogSet(r.clock),
		Events:    r.events,
	})
	spin := SpinFunc(func(n int) error {
		if n > 8 {
			return ErrTimeout
		}
		_, err := r.svc.Poll()
		return err
	})
	c, err := NewClient(r.kch, r.mem, testBuf, testBufSize, spin)
	require.NoError(t, err)
	r.client = c
	return r
}

// frame writes a raw frame of words at addr.
func (r *rig) frame(t *testing.T, addr uint32, words ...uint32) {
	t.Helper()
	var b [FrameSize]byte
	for i, w := range words {
		Order.PutUint32(b[4*i:], w)
	}
	require.NoError(t, r.mem.WriteAt(b[:], addr))
}
