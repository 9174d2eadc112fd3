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

import "fmt"

// I2C is a byte-level I2C bus controller.
type I2C interface {
	Start(bus int) error
	Restart(bus int) error
	Stop(bus int) error
	// Write sends one byte and reports whether the target acknowledged it.
	Write(bus int, data byte) (bool, error)
	// Read receives one byte, acknowledging it if ack is set.
	Read(bus int, ack bool) (byte, error)
}

// SPI is a word-level SPI bus controller.
type SPI interface {
	SetConfig(bus int, flags, writeDiv, readDiv uint32) error
	SetXfer(bus int, chipSelect uint16, writeLength, readLength uint8) error
	Write(bus int, data uint32) error
	Read(bus int) (uint32, error)
}

// I2C controller registers, per bus.
const (
	I2CStride = 0x10

	I2CCmd    = 0x0
	I2CStatus = 0x4
	I2CData   = 0x8

	I2CCmdStart   = 1 << 0
	I2CCmdRestart = 1 << 1
	I2CCmdStop    = 1 << 2
	I2CCmdWrite   = 1 << 3
	I2CCmdRead    = 1 << 4
	I2CCmdReadAck = 1 << 5

	I2CBusy  = 1 << 0
	I2CAck   = 1 << 1
	I2CError = 1 << 2
)

// SPI controller registers, per bus.
const (
	SPIStride = 0x20

	SPIConfig = 0x00
	SPIDiv    = 0x04
	SPIXfer   = 0x08
	SPIDataW  = 0x0c
	SPIDataR  = 0x10
	SPIStatus = 0x14

	SPIBusy = 1 << 0

	SPIFlagOffline     = 0x01
	SPIFlagCSPolarity  = 0x08
	SPIFlagClkPolarity = 0x10
	SPIFlagClkPhase    = 0x20
	SPIFlagLSBFirst    = 0x40
	SPIFlagHalfDuplex  = 0x80
)

// I2CMaster drives the gateware I2C controllers. Each call is a single
// command; nothing is retried.
type I2CMaster struct {
	regs  Registers
	buses int
	spin  Spinner
}

// NewI2CMaster returns a driver for buses controllers laid out at I2CStride in regs.
func NewI2CMaster(regs Registers, buses int, spin Spinner) *I2CMaster {
	if spin == nil {
		spin = Forever
	}
	return &I2CMaster{regs: regs, buses: buses, spin: spin}
}

// Buses returns the number of controllers.
func (m *I2CMaster) Buses() int { return m.buses }

func (m *I2CMaster) command(bus int, cmd uint32) (uint32, error) {
	if bus < 0 || bus >= m.buses {
		return 0, fmt.Errorf("i2c%d: %w", bus, ErrNoSuchBus)
	}
	base := uint32(bus) * I2CStride
	m.regs.Store(base+I2CCmd, cmd)
	var status uint32
	err := wait(m.spin, func() bool {
		status = m.regs.Load(base + I2CStatus)
		return status&I2CBusy == 0
	})
	if err != nil {
		return 0, fmt.Errorf("i2c%d: %w", bus, err)
	}
	if status&I2CError != 0 {
		return status, fmt.Errorf("i2c%d: bus fault after command 0x%02x", bus, cmd)
	}
	return status, nil
}

func (m *I2CMaster) Start(bus int) error {
	_, err := m.command(bus, I2CCmdStart)
	return err
}

func (m *I2CMaster) Restart(bus int) error {
	_, err := m.command(bus, I2CCmdRestart)
	return err
}

func (m *I2CMaster) Stop(bus int) error {
	_, err := m.command(bus, I2CCmdStop)
	return err
}

func (m *I2CMaster) Write(bus int, data byte) (bool, error) {
	if bus >= 0 && bus < m.buses {
		m.regs.Store(uint32(bus)*I2CStride+I2CData, uint32(data))
	}
	status, err := m.command(bus, I2CCmdWrite)
	if err != nil {
		return false, err
	}
	return status&I2CAck != 0, nil
}

func (m *I2CMaster) Read(bus int, ack bool) (byte, error) {
	cmd := uint32(I2CCmdRead)
	if ack {
		cmd |= I2CCmdReadAck
	}
	if _, err := m.command(bus, cmd); err != nil {
		return 0, err
	}
	return byte(m.regs.Load(uint32(bus)*I2CStride + I2CData)), nil
}

// SPIMaster drives the gateware SPI controllers.
type SPIMaster struct {
	regs  Registers
	buses int
	spin  Spinner
}

// NewSPIMaster returns a driver for buses controllers laid out at SPIStride in regs.
func NewSPIMaster(regs Registers, buses int, spin Spinner) *SPIMaster {
	if spin == nil {
		spin = Forever
	}
	return &SPIMaster{regs: regs, buses: buses, spin: spin}
}

// Buses returns the number of controllers.
func (m *SPIMaster) Buses() int { return m.buses }

func (m *SPIMaster) base(bus int) (uint32, error) {
	if bus < 0 || bus >= m.buses {
		return 0, fmt.Errorf("spi%d: %w", bus, ErrNoSuchBus)
	}
	return uint32(bus) * SPIStride, nil
}

// idle waits for the transfer in progress to finish.
func (m *SPIMaster) idle(bus int, base uint32) error {
	err := wait(m.spin, func() bool {
		return m.regs.Load(base+SPIStatus)&SPIBusy == 0
	})
	if err != nil {
		return fmt.Errorf("spi%d: %w", bus, err)
	}
	return nil
}

func (m *SPIMaster) SetConfig(bus int, flags, writeDiv, readDiv uint32) error {
	base, err := m.base(bus)
	if err != nil {
		return err
	}
	if err := m.idle(bus, base); err != nil {
		return err
	}
	m.regs.Store(base+SPIDiv, writeDiv&0xffff|readDiv<<16)
	m.regs.Store(base+SPIConfig, flags)
	return nil
}

func (m *SPIMaster) SetXfer(bus int, chipSelect uint16, writeLength, readLength uint8) error {
	base, err := m.base(bus)
	if err != nil {
		return err
	}
	if err := m.idle(bus, base); err != nil {
		return err
	}
	m.regs.Store(base+SPIXfer, uint32(chipSelect)|uint32(writeLength)<<16|uint32(readLength)<<24)
	return nil
}

func (m *SPIMaster) Write(bus int, data uint32) error {
	base, err := m.base(bus)
	if err != nil {
		return err
	}
	if err := m.idle(bus, base); err != nil {
		return err
	}
	m.regs.Store(base+SPIDataW, data)
	return nil
}

func (m *SPIMaster) Read(bus int) (uint32, error) {
	base, err := m.base(bus)
	if err != nil {
		return 0, err
	}
	if err := m.idle(bus, base); err != nil {
		return 0, err
	}
	return m.regs.Load(base + SPIDataR), nil
}
