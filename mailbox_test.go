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
	"testing"

	"github.com/stretchr/testify/require"
)

type countingCache struct{ flushes int }

func (c *countingCache) Flush() { c.flushes++ }

func TestChannelDeliversOnce(t *testing.T) {
	t.Parallel()

	reg := NewAtomicRegister(0)
	kcc, ccc := &countingCache{}, &countingCache{}
	kernel := NewChannel(reg, kcc)
	comms := NewChannel(reg, ccc)

	_, ok := comms.Receive()
	require.False(t, ok, "idle mailbox")

	kernel.Send(0x40801000)
	require.False(t, kernel.Acknowledged())
	_, ok = kernel.Receive()
	require.False(t, ok, "a core never receives its own message")

	v, ok := comms.Receive()
	require.True(t, ok)
	require.Equal(t, uint32(0x40801000), v)
	require.Equal(t, 1, ccc.flushes, "receiving a peer value flushes")
	require.False(t, kernel.Acknowledged(), "reading alone does not consume")

	comms.Acknowledge()
	require.True(t, kernel.Acknowledged())
	_, ok = comms.Receive()
	require.False(t, ok, "consumed message is not seen again")
	require.Equal(t, 1, kcc.flushes, "send flushes")
}

func TestChannelReplyCountsAsAcknowledge(t *testing.T) {
	t.Parallel()

	reg := NewAtomicRegister(0)
	kernel := NewChannel(reg, nil)
	comms := NewChannel(reg, nil)

	kernel.Send(0x40801000)
	_, ok := comms.Receive()
	require.True(t, ok)
	comms.Send(0x407f0000)
	require.True(t, kernel.Acknowledged())

	v, ok := kernel.Receive()
	require.True(t, ok)
	require.Equal(t, uint32(0x407f0000), v)
	_, ok = comms.Receive()
	require.False(t, ok)
}

func TestChannelSecondSendOverwrites(t *testing.T) {
	t.Parallel()

	reg := NewAtomicRegister(0)
	kernel := NewChannel(reg, nil)
	comms := NewChannel(reg, nil)

	kernel.Send(0x100)
	kernel.Send(0x200)
	v, ok := comms.Receive()
	require.True(t, ok)
	require.Equal(t, uint32(0x200), v, "the first message is lost")
}

func TestChannelReset(t *testing.T) {
	t.Parallel()

	reg := NewAtomicRegister(0)
	ch := NewChannel(reg, nil)
	ch.Send(0x300)
	_, ok := ch.Receive()
	require.False(t, ok)
	ch.Reset()
	v, ok := ch.Receive()
	require.True(t, ok, "after reset the stale word reads as the peer's")
	require.Equal(t, uint32(0x300), v)
}

func TestBoundedSpinner(t *testing.T) {
	t.Parallel()

	polls := 0
	err := wait(Bounded{Attempts: 3}, func() bool {
		polls++
		return false
	})
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 4, polls)

	require.NoError(t, wait(Bounded{Attempts: 3}, func() bool { return true }))
}
