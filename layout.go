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

// Physical memory map shared with the kernel core's linker script.
const (
	KernelCPUExecAddress = 0x40800000
	KernelCPULastAddress = 0x4fffffff
	KSupportHeaderSize   = 0x80

	MailboxBase  = 0xe0007000
	ResetAddress = 0xe0006800

	// Comms-owned area the tunnel writes replies into. It ends where the
	// kernel image header begins.
	ScratchAddress = 0x407f0000
	ScratchSize    = KernelCPUExecAddress - KSupportHeaderSize - ScratchAddress
)

// Layout describes where each shared object lives in physical memory.
type Layout struct {
	ExecAddress    uint32 `mapstructure:"exec_address"`
	LastAddress    uint32 `mapstructure:"last_address"`
	HeaderSize     uint32 `mapstructure:"header_size"`
	MailboxBase    uint32 `mapstructure:"mailbox_base"`
	ResetAddress   uint32 `mapstructure:"reset_address"`
	ScratchAddress uint32 `mapstructure:"scratch_address"`
	ScratchSize    uint32 `mapstructure:"scratch_size"`
}

// DefaultLayout is the layout of the hardware.
var DefaultLayout = Layout{
	ExecAddress:    KernelCPUExecAddress,
	LastAddress:    KernelCPULastAddress,
	HeaderSize:     KSupportHeaderSize,
	MailboxBase:    MailboxBase,
	ResetAddress:   ResetAddress,
	ScratchAddress: ScratchAddress,
	ScratchSize:    ScratchSize,
}

// LoadAddress is where the first byte of the kernel image is copied.
func (l Layout) LoadAddress() uint32 {
	return l.ExecAddress - l.HeaderSize
}

// KernelSize is the number of bytes from LoadAddress to LastAddress inclusive.
func (l Layout) KernelSize() uint32 {
	return l.LastAddress - l.LoadAddress() + 1
}

// Validate reports whether ptr lies inside the kernel core's window.
// Both ends are included.
func (l Layout) Validate(ptr uint32) bool {
	return l.ExecAddress <= ptr && ptr <= l.LastAddress
}

// ValidateSpan reports whether all n bytes starting at ptr lie inside
// the kernel core's window. An empty span only needs a valid start.
func (l Layout) ValidateSpan(ptr, n uint32) bool {
	if !l.Validate(ptr) {
		return false
	}
	if n == 0 {
		return true
	}
	return uint64(ptr)+uint64(n)-1 <= uint64(l.LastAddress)
}

// Check returns an error when the layout is not usable.
func (l Layout) Check() error {
	switch {
	case l.HeaderSize > l.ExecAddress:
		return fmt.Errorf("layout: header size 0x%x exceeds exec address 0x%08x", l.HeaderSize, l.ExecAddress)
	case l.LastAddress < l.ExecAddress:
		return fmt.Errorf("layout: last address 0x%08x below exec address 0x%08x", l.LastAddress, l.ExecAddress)
	case l.MailboxBase == 0 || l.ResetAddress == 0:
		return fmt.Errorf("layout: mailbox and reset registers must be mapped")
	case l.ScratchSize < FrameSize:
		return fmt.Errorf("layout: scratch size 0x%x smaller than a frame", l.ScratchSize)
	case l.scratchOverlaps():
		return fmt.Errorf("layout: scratch area 0x%08x+0x%x overlaps the kernel window from 0x%08x", l.ScratchAddress, l.ScratchSize, l.LoadAddress())
	}
	return nil
}

// scratchOverlaps reports whether the scratch area shares any byte with
// [LoadAddress, LastAddress], header included.
func (l Layout) scratchOverlaps() bool {
	start, end := uint64(l.ScratchAddress), uint64(l.ScratchAddress)+uint64(l.ScratchSize)
	return start <= uint64(l.LastAddress) && uint64(l.LoadAddress()) < end
}
