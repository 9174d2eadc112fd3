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

// Board is the hardware seen by the comms core.
type Board struct {
	Memory  Memory
	Mailbox Register
	Reset   Register
	I2C     I2C
	SPI     SPI
	Cache   CacheControl

	closers []func()
}

// OnClose registers f to run when the board is closed.
func (b *Board) OnClose(f func()) {
	b.closers = append(b.closers, f)
}

// Close releases every mapping, most recent first.
func (b *Board) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// OpenBoard maps the hardware described by cfg through /dev/mem.
func OpenBoard(cfg Config) (*Board, error) {
	l := cfg.Layout
	if err := l.Check(); err != nil {
		return nil, err
	}
	b := &Board{Cache: NoCache{}}
	mapRegion := func(start, size uint32) (*Region, error) {
		r, err := MapPhys(start, size)
		if err != nil {
			return nil, err
		}
		b.OnClose(r.Close)
		return r, nil
	}
	reg := func(addr uint32) (Register, error) {
		r, err := mapRegion(addr, 4)
		if err != nil {
			return nil, err
		}
		return r.Register(addr)
	}
	regs := func(base uint32, size uint32) (Registers, error) {
		r, err := mapRegion(base, size)
		if err != nil {
			return nil, err
		}
		return r.Registers(base, size)
	}

	kernel, err := mapRegion(l.LoadAddress(), l.KernelSize())
	if err != nil {
		b.Close()
		return nil, err
	}
	scratch, err := mapRegion(l.ScratchAddress, l.ScratchSize)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Memory = PhysMem{kernel, scratch}
	if b.Mailbox, err = reg(l.MailboxBase); err != nil {
		b.Close()
		return nil, err
	}
	if b.Reset, err = reg(l.ResetAddress); err != nil {
		b.Close()
		return nil, err
	}
	spin := cfg.Poll.Spinner()
	if n := cfg.Board.I2CBuses; n > 0 {
		r, err := regs(cfg.Board.I2CBase, uint32(n)*I2CStride)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.I2C = NewI2CMaster(r, n, spin)
	}
	if n := cfg.Board.SPIBuses; n > 0 {
		r, err := regs(cfg.Board.SPIBase, uint32(n)*SPIStride)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.SPI = NewSPIMaster(r, n, spin)
	}
	return b, nil
}

// Comms is the comms core's half of the subsystem wired to a board.
type Comms struct {
	Channel *Channel
	Service *Service
	Kernel  *Kernel
	Cache   *Cache
}

// NewComms builds the tunnel service and the kernel manager for board b
// and leaves the kernel core stopped with image loaded.
func NewComms(b *Board, layout Layout, image []byte, events Events) (*Comms, error) {
	ch := NewChannel(b.Mailbox, b.Cache)
	cache := NewCache()
	svc := NewService(ServiceConfig{
		Channel:   ch,
		Memory:    b.Memory,
		Layout:    layout,
		I2C:       b.I2C,
		SPI:       b.SPI,
		Cache:     cache,
		Watchdogs: NewWatchdogSet(NewSystemClock()),
		Events:    events,
	})
	k, err := NewKernel(KernelConfig{
		Memory:  b.Memory,
		Reset:   b.Reset,
		Channel: ch,
		Layout:  layout,
		Image:   image,
		Tunnel:  svc,
	})
	if err != nil {
		return nil, err
	}
	return &Comms{Channel: ch, Service: svc, Kernel: k, Cache: cache}, nil
}
