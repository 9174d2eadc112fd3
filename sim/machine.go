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

// Package sim is an in-process model of the split-core board.
//
// The kernel core is a goroutine started and stopped through the reset
// register. Its programs are Lua scripts packaged as kernel images; every
// service call they make travels through the mailbox to the comms core
// exactly as on hardware.
package sim

import (
	"fmt"

	"github.com/rich1111/splitcore"
)

// Layout is a small memory map for the simulated board.
var Layout = splitcore.Layout{
	ExecAddress:    splitcore.KernelCPUExecAddress,
	LastAddress:    splitcore.KernelCPUExecAddress + 0xffff,
	HeaderSize:     splitcore.KSupportHeaderSize,
	MailboxBase:    splitcore.MailboxBase,
	ResetAddress:   splitcore.ResetAddress,
	ScratchAddress: splitcore.ScratchAddress,
	ScratchSize:    splitcore.ScratchSize,
}

// maxWindow bounds the memory allocated for the kernel window.
const maxWindow = 64 << 20

// EEPROMAddress is the I2C address of the EEPROM on bus 0.
const EEPROMAddress = 0x50

// DefaultConfig returns the hardware configuration with the small layout.
func DefaultConfig() splitcore.Config {
	c := splitcore.DefaultConfig()
	c.Layout = Layout
	return c
}

// Machine is a simulated board.
type Machine struct {
	Kernel  *splitcore.Region
	Scratch *splitcore.Region
	Mailbox *splitcore.AtomicRegister
	CPU     *CPU
	I2C     *I2CController
	EEPROM  *EEPROM
	SPI     *SPILoopback
	Board   *splitcore.Board
}

// NewMachine builds a board for cfg with an EEPROM on I2C bus 0.
func NewMachine(cfg splitcore.Config) (*Machine, error) {
	l := cfg.Layout
	if err := l.Check(); err != nil {
		return nil, err
	}
	if l.HeaderSize < ImageHeaderSize {
		return nil, fmt.Errorf("sim: header size %d is below the %d byte image header", l.HeaderSize, ImageHeaderSize)
	}
	if l.KernelSize() > maxWindow {
		return nil, fmt.Errorf("sim: kernel window of 0x%x bytes is too large to simulate", l.KernelSize())
	}
	m := &Machine{
		Kernel:  splitcore.NewRegion(l.LoadAddress(), l.KernelSize()),
		Scratch: splitcore.NewRegion(l.ScratchAddress, l.ScratchSize),
		Mailbox: splitcore.NewAtomicRegister(0),
		I2C:     NewI2CController(cfg.Board.I2CBuses),
		EEPROM:  NewEEPROM(EEPROMAddress),
		SPI:     NewSPILoopback(cfg.Board.SPIBuses),
	}
	mem := splitcore.PhysMem{m.Kernel, m.Scratch}
	spin := cfg.Poll.Spinner()
	m.CPU = NewCPU(mem, m.Mailbox, l, spin)
	if cfg.Board.I2CBuses > 0 {
		m.I2C.Attach(0, m.EEPROM)
	}
	m.Board = &splitcore.Board{
		Memory:  mem,
		Mailbox: m.Mailbox,
		Reset:   m.CPU,
		I2C:     splitcore.NewI2CMaster(m.I2C, cfg.Board.I2CBuses, spin),
		SPI:     splitcore.NewSPIMaster(m.SPI, cfg.Board.SPIBuses, spin),
		Cache:   splitcore.NoCache{},
	}
	m.Board.OnClose(m.CPU.Halt)
	return m, nil
}
