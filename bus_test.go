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

// regFile is a bank of plain registers. busyFor makes the status register
// read busy for that many loads after each command.
type regFile struct {
	regs    map[uint32]uint32
	stores  []uint32
	busyFor int
	busy    int
	status  uint32
}

func newRegFile() *regFile {
	return &regFile{regs: map[uint32]uint32{}}
}

func (f *regFile) Load(off uint32) uint32 {
	if off%I2CStride == I2CStatus && f.busy > 0 {
		f.busy--
		return I2CBusy
	}
	return f.regs[off]
}

func (f *regFile) Store(off, v uint32) {
	f.stores = append(f.stores, off)
	f.regs[off] = v
	if off%I2CStride == I2CCmd {
		f.busy = f.busyFor
		f.regs[off-I2CCmd+I2CStatus] = f.status
	}
}

func TestI2CMasterWaitsForCommand(t *testing.T) {
	t.Parallel()

	f := newRegFile()
	f.busyFor = 3
	f.status = I2CAck
	m := NewI2CMaster(f, 2, Bounded{Attempts: 10})

	ack, err := m.Write(1, 0xa0)
	require.NoError(t, err)
	require.True(t, ack)
	require.Equal(t, uint32(0xa0), f.regs[I2CStride+I2CData])
	require.Equal(t, uint32(I2CCmdWrite), f.regs[I2CStride+I2CCmd])
	require.Equal(t, []uint32{I2CStride + I2CData, I2CStride + I2CCmd}, f.stores, "data is loaded before the command")

	f.status = 0
	ack, err = m.Write(1, 0xa0)
	require.NoError(t, err)
	require.False(t, ack)
}

func TestI2CMasterRead(t *testing.T) {
	t.Parallel()

	f := newRegFile()
	m := NewI2CMaster(f, 1, nil)
	f.regs[I2CData] = 0x1234
	b, err := m.Read(0, true)
	require.NoError(t, err)
	require.Equal(t, byte(0x34), b)
	require.Equal(t, uint32(I2CCmdRead|I2CCmdReadAck), f.regs[I2CCmd])

	_, err = m.Read(0, false)
	require.NoError(t, err)
	require.Equal(t, uint32(I2CCmdRead), f.regs[I2CCmd])
}

func TestI2CMasterFailures(t *testing.T) {
	t.Parallel()

	f := newRegFile()
	m := NewI2CMaster(f, 1, Bounded{Attempts: 2})
	require.Equal(t, 1, m.Buses())

	require.ErrorIs(t, m.Start(1), ErrNoSuchBus)
	require.ErrorIs(t, m.Stop(-1), ErrNoSuchBus)
	_, err := m.Write(1, 0)
	require.ErrorIs(t, err, ErrNoSuchBus)
	require.Empty(t, f.stores, "nothing is written for a missing bus")

	f.status = I2CError
	require.Error(t, m.Restart(0))

	f.status = 0
	f.busyFor = 100
	require.ErrorIs(t, m.Start(0), ErrTimeout)
}

type spiRegs struct {
	regs map[uint32]uint32
	busy int
}

func (s *spiRegs) Load(off uint32) uint32 {
	if off%SPIStride == SPIStatus && s.busy > 0 {
		s.busy--
		return SPIBusy
	}
	return s.regs[off]
}

func (s *spiRegs) Store(off, v uint32) { s.regs[off] = v }

func TestSPIMaster(t *testing.T) {
	t.Parallel()

	s := &spiRegs{regs: map[uint32]uint32{}}
	m := NewSPIMaster(s, 2, Bounded{Attempts: 5})
	base := uint32(SPIStride)

	require.NoError(t, m.SetConfig(1, SPIFlagClkPhase|SPIFlagLSBFirst, 0x10004, 8))
	require.Equal(t, uint32(SPIFlagClkPhase|SPIFlagLSBFirst), s.regs[base+SPIConfig])
	require.Equal(t, uint32(0x0004|8<<16), s.regs[base+SPIDiv])

	require.NoError(t, m.SetXfer(1, 0x3, 32, 16))
	require.Equal(t, uint32(0x3|32<<16|16<<24), s.regs[base+SPIXfer])

	s.busy = 2
	require.NoError(t, m.Write(1, 0xdeadbeef))
	require.Equal(t, uint32(0xdeadbeef), s.regs[base+SPIDataW])
	require.Zero(t, s.busy, "a write waits for the previous transfer")

	s.regs[base+SPIDataR] = 0xcafe
	v, err := m.Read(1)
	require.NoError(t, err)
	require.Equal(t, uint32(0xcafe), v)

	require.ErrorIs(t, m.Write(2, 0), ErrNoSuchBus)
	s.busy = 100
	_, err = m.Read(0)
	require.ErrorIs(t, err, ErrTimeout)
}
