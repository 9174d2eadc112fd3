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
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type resetCounter struct{ n int }

func (r *resetCounter) Reset() { r.n++ }

func newTestKernel(t *testing.T, r *rig, image []byte, tunnel Resetter) *Kernel {
	t.Helper()
	k, err := NewKernel(KernelConfig{
		Memory:  r.mem,
		Reset:   r.reset,
		Channel: r.comms,
		Layout:  testLayout,
		Image:   image,
		Tunnel:  tunnel,
	})
	require.NoError(t, err)
	return k
}

func TestKernelStartCopiesImage(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	for i := range r.kernel.Mem {
		r.kernel.Mem[i] = 0xaa
	}
	image := make([]byte, 100)
	for i := range image {
		image[i] = byte(i)
	}
	tunnel := &resetCounter{}
	k := newTestKernel(t, r, image, tunnel)
	require.Equal(t, StatusStopped, k.Status())
	require.Equal(t, 1, tunnel.n, "construction stops the core")

	require.NoError(t, k.Start())
	require.Equal(t, StatusRunning, k.Status())
	require.Equal(t, 2, tunnel.n)
	require.Equal(t, image, r.kernel.Mem[:100])
	require.Equal(t, byte(0xaa), r.kernel.Mem[100], "nothing past the image is touched")
	first := k.RunID()

	err := k.Start()
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.ErrorIs(t, err, ErrFatal)

	k.Stop()
	require.Equal(t, StatusStopped, k.Status())
	copy(r.kernel.Mem, bytes.Repeat([]byte{0}, 100))
	require.NoError(t, k.Start())
	require.Equal(t, image, r.kernel.Mem[:100], "every start reloads the image")
	require.NotEqual(t, first, k.RunID())
}

func TestKernelStopAbandonsExchange(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	k := newTestKernel(t, r, []byte{1}, r.svc)
	require.NoError(t, k.Start())
	r.kch.Send(testBuf)
	k.Stop()
	require.Zero(t, r.mailbox.Load())
	require.Equal(t, uint32(resetAsserted), r.reset.Load())
	k.Stop()
	require.Equal(t, StatusStopped, k.Status(), "stopping twice is harmless")
}

func TestKernelLoad(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	k := newTestKernel(t, r, []byte{1, 2, 3}, nil)
	require.ErrorIs(t, k.Load(make([]byte, testLayout.KernelSize()+1)), ErrImageTooLarge)
	require.NoError(t, k.Load(make([]byte, testLayout.KernelSize())))

	require.NoError(t, k.Load([]byte{4, 5}))
	require.NoError(t, k.Start())
	require.NoError(t, k.Load([]byte{6}))
	require.Equal(t, StatusStopped, k.Status(), "loading stops a running core")
	require.NoError(t, k.Start())
	require.Equal(t, []byte{6, 5}, r.kernel.Mem[:2])
}

func TestKernelValidate(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	k := newTestKernel(t, r, nil, nil)
	require.True(t, k.Validate(testLayout.ExecAddress))
	require.True(t, k.Validate(testLayout.LastAddress))
	require.False(t, k.Validate(testLayout.LoadAddress()))
	require.False(t, k.Validate(testLayout.LastAddress+1))
}

func TestNewKernelRejectsBadLayout(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	l := testLayout
	l.MailboxBase = 0
	_, err := NewKernel(KernelConfig{Memory: r.mem, Reset: r.reset, Channel: r.comms, Layout: l})
	require.Error(t, err)
}

func TestStartForgetsPreviousRun(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	k := newTestKernel(t, r, []byte{1}, r.svc)
	_, err := r.svc.Watchdogs().SetMs(10)
	require.NoError(t, err)

	// A run whose reply address is reused by the next run's first request.
	r.comms.Send(testBuf)
	require.NoError(t, k.Start())
	require.Zero(t, r.svc.Watchdogs().Active())
	r.frame(t, testBuf, uint32(TagRunFinished))
	r.kch.Send(testBuf)
	handled, err := r.svc.Poll()
	require.NoError(t, err)
	require.True(t, handled, "the first message of a run is never dropped")
	require.Equal(t, 1, r.events.finished)
}

func TestServeStopsOnWatchdog(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	k := newTestKernel(t, r, []byte{1}, r.svc)
	require.NoError(t, k.Start())
	id, err := r.client.WatchdogSet(20)
	require.NoError(t, err)
	r.clock.advance(21)

	err = r.svc.Serve(context.Background(), k, nil)
	require.ErrorIs(t, err, ErrWatchdogExpired)
	require.ErrorIs(t, err, ErrFatal)
	require.Equal(t, []int{id}, r.events.expired)
	require.Equal(t, StatusStopped, k.Status())
}

func TestServeStopsOnFatalError(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	k := newTestKernel(t, r, []byte{1}, r.svc)
	require.NoError(t, k.Start())
	r.kch.Send(testLayout.ScratchAddress)

	err := r.svc.Serve(context.Background(), k, nil)
	var se *SandboxError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StatusStopped, k.Status())
	require.Zero(t, r.mailbox.Load())
}

func TestServeReturnsWhenCancelled(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	k := newTestKernel(t, r, []byte{1}, r.svc)
	require.NoError(t, k.Start())

	ctx, cancel := context.WithCancel(context.Background())
	idles := 0
	err := r.svc.Serve(ctx, k, func() {
		idles++
		if idles == 3 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatusRunning, k.Status(), "cancelling the service leaves the core alone")
}
