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
	"sync"

	"github.com/rich1111/splitcore"
)

// Target is a device on a simulated I2C bus.
type Target interface {
	Address() byte
	// Begin is called when the target is addressed, read set for a read transfer.
	Begin(read bool)
	// Write receives a byte and reports whether it is acknowledged.
	Write(b byte) bool
	Read() byte
	End()
}

type i2cBus struct {
	targets  []Target
	active   Target
	started  bool
	read     bool
	status   uint32
	data     uint32
	addrNext bool
}

// I2CController models the gateware I2C controllers register by register.
// Commands complete immediately, so the busy bit is never seen set.
type I2CController struct {
	mu    sync.Mutex
	buses []*i2cBus
}

// NewI2CController returns n idle buses with no targets.
func NewI2CController(n int) *I2CController {
	c := &I2CController{buses: make([]*i2cBus, n)}
	for i := range c.buses {
		c.buses[i] = &i2cBus{}
	}
	return c
}

// Attach places t on bus.
func (c *I2CController) Attach(bus int, t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buses[bus].targets = append(c.buses[bus].targets, t)
}

func (c *I2CController) bus(off uint32) (*i2cBus, uint32) {
	n := int(off / splitcore.I2CStride)
	if n >= len(c.buses) {
		return nil, 0
	}
	return c.buses[n], off % splitcore.I2CStride
}

func (c *I2CController) Load(off uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, reg := c.bus(off)
	if b == nil {
		return 0
	}
	switch reg {
	case splitcore.I2CStatus:
		return b.status
	case splitcore.I2CData:
		return b.data
	}
	return 0
}

func (c *I2CController) Store(off, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, reg := c.bus(off)
	if b == nil {
		return
	}
	switch reg {
	case splitcore.I2CData:
		b.data = v & 0xff
	case splitcore.I2CCmd:
		b.command(v)
	}
}

func (b *i2cBus) command(cmd uint32) {
	b.status = 0
	switch {
	case cmd&(splitcore.I2CCmdStart|splitcore.I2CCmdRestart) != 0:
		if cmd&splitcore.I2CCmdStart != 0 && b.started {
			b.status = splitcore.I2CError
			return
		}
		b.deselect()
		b.started = true
		b.addrNext = true
	case cmd&splitcore.I2CCmdStop != 0:
		if !b.started {
			b.status = splitcore.I2CError
			return
		}
		b.deselect()
		b.started = false
	case cmd&splitcore.I2CCmdWrite != 0:
		if !b.started {
			b.status = splitcore.I2CError
			return
		}
		if b.write(byte(b.data)) {
			b.status = splitcore.I2CAck
		}
	case cmd&splitcore.I2CCmdRead != 0:
		if !b.started {
			b.status = splitcore.I2CError
			return
		}
		// An unaddressed bus floats high.
		b.data = 0xff
		if b.active != nil && b.read {
			b.data = uint32(b.active.Read())
		}
	}
}

func (b *i2cBus) write(v byte) bool {
	if b.addrNext {
		b.addrNext = false
		for _, t := range b.targets {
			if t.Address() == v>>1 {
				b.active = t
				b.read = v&1 != 0
				t.Begin(b.read)
				return true
			}
		}
		return false
	}
	if b.active == nil || b.read {
		return false
	}
	return b.active.Write(v)
}

func (b *i2cBus) deselect() {
	if b.active != nil {
		b.active.End()
		b.active = nil
	}
}

// EEPROM is a 256 byte 24C02 style memory. The first byte written after
// it is addressed sets the word pointer; later bytes are stored there.
type EEPROM struct {
	mu      sync.Mutex
	addr    byte
	mem     [256]byte
	ptr     byte
	pointer bool
}

// NewEEPROM returns an erased EEPROM answering at addr.
func NewEEPROM(addr byte) *EEPROM {
	e := &EEPROM{addr: addr}
	for i := range e.mem {
		e.mem[i] = 0xff
	}
	return e
}

func (e *EEPROM) Address() byte { return e.addr }

func (e *EEPROM) Begin(read bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pointer = !read
}

func (e *EEPROM) Write(b byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pointer {
		e.ptr = b
		e.pointer = false
		return true
	}
	e.mem[e.ptr] = b
	e.ptr++
	return true
}

func (e *EEPROM) Read() byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.mem[e.ptr]
	e.ptr++
	return b
}

func (e *EEPROM) End() {}

// Contents returns a copy of the memory.
func (e *EEPROM) Contents() [256]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mem
}

// Program stores data at addr, as a programmer would before the board boots.
func (e *EEPROM) Program(addr byte, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, b := range data {
		e.mem[addr+byte(i)] = b
	}
}

// SPIState is what the kernel last configured on one SPI bus.
type SPIState struct {
	Config uint32
	Div    uint32
	Xfer   uint32
	Writes []uint32
}

// SPILoopback models SPI controllers with MOSI wired to MISO: every word
// written is read back.
type SPILoopback struct {
	mu    sync.Mutex
	buses []SPIState
	last  []uint32
}

// NewSPILoopback returns n buses.
func NewSPILoopback(n int) *SPILoopback {
	return &SPILoopback{buses: make([]SPIState, n), last: make([]uint32, n)}
}

func (s *SPILoopback) Load(off uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, reg := int(off/splitcore.SPIStride), off%splitcore.SPIStride
	if n >= len(s.buses) {
		return 0
	}
	switch reg {
	case splitcore.SPIConfig:
		return s.buses[n].Config
	case splitcore.SPIDiv:
		return s.buses[n].Div
	case splitcore.SPIXfer:
		return s.buses[n].Xfer
	case splitcore.SPIDataR:
		return s.last[n]
	}
	return 0
}

func (s *SPILoopback) Store(off, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, reg := int(off/splitcore.SPIStride), off%splitcore.SPIStride
	if n >= len(s.buses) {
		return
	}
	switch reg {
	case splitcore.SPIConfig:
		s.buses[n].Config = v
	case splitcore.SPIDiv:
		s.buses[n].Div = v
	case splitcore.SPIXfer:
		s.buses[n].Xfer = v
	case splitcore.SPIDataW:
		s.buses[n].Writes = append(s.buses[n].Writes, v)
		s.last[n] = v
	}
}

// State returns a copy of what bus has been configured with.
func (s *SPILoopback) State(bus int) SPIState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.buses[bus]
	st.Writes = append([]uint32(nil), st.Writes...)
	return st
}
