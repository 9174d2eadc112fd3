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
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// Order is the byte order of every word shared between the cores.
var Order = binary.LittleEndian

// ErrUnmapped is returned for accesses outside every mapped region.
var ErrUnmapped = errors.New("address not mapped")

const devMem = "/dev/mem"

// Memory is physical memory addressed by bus address.
type Memory interface {
	ReadAt(p []byte, addr uint32) error
	WriteAt(p []byte, addr uint32) error
}

// Register is a single 32 bit hardware word, such as the mailbox
// or the kernel core reset line.
type Register interface {
	Load() uint32
	Store(v uint32)
}

// Registers is a block of 32 bit registers addressed by byte offset.
type Registers interface {
	Load(off uint32) uint32
	Store(off, v uint32)
}

// CacheControl flushes the data cache of the calling core.
type CacheControl interface {
	Flush()
}

// NoCache is used when the shared memory is uncached, as with
// an O_SYNC mapping of /dev/mem or the simulated board.
type NoCache struct{}

func (NoCache) Flush() {}

// AtomicRegister is an in-process Register.
type AtomicRegister struct {
	v atomic.Uint32
}

// NewAtomicRegister returns a register holding v.
func NewAtomicRegister(v uint32) *AtomicRegister {
	r := &AtomicRegister{}
	r.v.Store(v)
	return r
}

func (r *AtomicRegister) Load() uint32   { return r.v.Load() }
func (r *AtomicRegister) Store(v uint32) { r.v.Store(v) }

// Region is a window of physical memory starting at bus address Start.
type Region struct {
	Start uint32
	Mem   []byte

	// Set when the region is a mapping of /dev/mem.
	mmapFile *os.File
	mapped   []byte
}

// NewRegion allocates an unmapped, process-local region.
func NewRegion(start, size uint32) *Region {
	return &Region{Start: start, Mem: make([]byte, size)}
}

// MapPhys maps size bytes of physical memory at start through /dev/mem.
// The mapping is O_SYNC, so it bypasses the data cache.
func MapPhys(start, size uint32) (*Region, error) {
	if err := checkRawIO(); err != nil {
		return nil, err
	}
	m, err := os.OpenFile(devMem, os.O_RDWR|os.O_SYNC, 0660)
	if err != nil {
		return nil, err
	}
	page := uint32(os.Getpagesize())
	base := start &^ (page - 1)
	lead := start - base
	mem, err := unix.Mmap(int(m.Fd()), int64(base), int(lead+size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("mmap 0x%08x+0x%x: %w", start, size, err)
	}
	return &Region{
		Start:    start,
		Mem:      mem[lead : lead+size],
		mmapFile: m,
		mapped:   mem,
	}, nil
}

// checkRawIO verifies that the process may use /dev/mem.
func checkRawIO() error {
	on, err := cap.GetProc().GetFlag(cap.Effective, cap.SYS_RAWIO)
	if err != nil {
		return fmt.Errorf("read capabilities: %w", err)
	}
	if !on {
		return fmt.Errorf("%s requires CAP_SYS_RAWIO", devMem)
	}
	return nil
}

// Close releases a /dev/mem mapping. It is a no-op for local regions.
func (r *Region) Close() {
	if r.mmapFile != nil {
		unix.Munmap(r.mapped)
		r.mmapFile.Close()
		r.mmapFile = nil
		r.mapped = nil
		r.Mem = nil
	}
}

// End returns the last address inside the region.
func (r *Region) End() uint32 {
	return r.Start + uint32(len(r.Mem)) - 1
}

// Contains reports whether [addr, addr+n) lies inside the region.
func (r *Region) Contains(addr, n uint32) bool {
	if addr < r.Start {
		return false
	}
	return uint64(addr-r.Start)+uint64(n) <= uint64(len(r.Mem))
}

func (r *Region) slice(addr uint32, n int) ([]byte, error) {
	if !r.Contains(addr, uint32(n)) {
		return nil, fmt.Errorf("0x%08x+%d: %w", addr, n, ErrUnmapped)
	}
	off := addr - r.Start
	return r.Mem[off : off+uint32(n)], nil
}

func (r *Region) ReadAt(p []byte, addr uint32) error {
	b, err := r.slice(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, b)
	return nil
}

func (r *Region) WriteAt(p []byte, addr uint32) error {
	b, err := r.slice(addr, len(p))
	if err != nil {
		return err
	}
	copy(b, p)
	return nil
}

// Word reads the little-endian word at addr.
func (r *Region) Word(addr uint32) (uint32, error) {
	b, err := r.slice(addr, 4)
	if err != nil {
		return 0, err
	}
	return Order.Uint32(b), nil
}

// SetWord writes v as a little-endian word at addr.
func (r *Region) SetWord(addr, v uint32) error {
	b, err := r.slice(addr, 4)
	if err != nil {
		return err
	}
	Order.PutUint32(b, v)
	return nil
}

// Register returns the aligned word at addr as a Register.
// Loads and stores are atomic, so the word may be shared with another core.
func (r *Region) Register(addr uint32) (Register, error) {
	p, err := r.word(addr)
	if err != nil {
		return nil, err
	}
	return (*memRegister)(p), nil
}

// Registers returns the block of size bytes at base.
func (r *Region) Registers(base, size uint32) (Registers, error) {
	if !r.Contains(base, size) {
		return nil, fmt.Errorf("registers 0x%08x+0x%x: %w", base, size, ErrUnmapped)
	}
	if _, err := r.word(base); err != nil {
		return nil, err
	}
	return &memRegisters{r: r, base: base, size: size}, nil
}

func (r *Region) word(addr uint32) (*uint32, error) {
	b, err := r.slice(addr, 4)
	if err != nil {
		return nil, err
	}
	p := unsafe.Pointer(&b[0])
	if uintptr(p)%4 != 0 {
		return nil, fmt.Errorf("register 0x%08x is not word aligned", addr)
	}
	return (*uint32)(p), nil
}

type memRegister uint32

func (m *memRegister) Load() uint32   { return atomic.LoadUint32((*uint32)(m)) }
func (m *memRegister) Store(v uint32) { atomic.StoreUint32((*uint32)(m), v) }

type memRegisters struct {
	r    *Region
	base uint32
	size uint32
}

func (m *memRegisters) at(off uint32) *uint32 {
	if off%4 != 0 || off+4 > m.size {
		panic(fmt.Sprintf("register offset 0x%x outside block of 0x%x", off, m.size))
	}
	return (*uint32)(unsafe.Pointer(&m.r.Mem[m.base-m.r.Start+off]))
}

func (m *memRegisters) Load(off uint32) uint32 { return atomic.LoadUint32(m.at(off)) }
func (m *memRegisters) Store(off, v uint32)    { atomic.StoreUint32(m.at(off), v) }

// PhysMem is a set of regions forming a sparse physical address space.
type PhysMem []*Region

func (pm PhysMem) find(addr uint32, n int) (*Region, error) {
	for _, r := range pm {
		if r.Contains(addr, uint32(n)) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("0x%08x+%d: %w", addr, n, ErrUnmapped)
}

func (pm PhysMem) ReadAt(p []byte, addr uint32) error {
	r, err := pm.find(addr, len(p))
	if err != nil {
		return err
	}
	return r.ReadAt(p, addr)
}

func (pm PhysMem) WriteAt(p []byte, addr uint32) error {
	r, err := pm.find(addr, len(p))
	if err != nil {
		return err
	}
	return r.WriteAt(p, addr)
}

// Close closes every region.
func (pm PhysMem) Close() {
	for _, r := range pm {
		r.Close()
	}
}
