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
	"fmt"
)

// Largest payload accepted in a single message.
const maxPayload = 1 << 24

// encoder lays out one message: fields go into the frame, variable
// length payloads are placed after it in [heap, end).
type encoder struct {
	mem   Memory
	frame [FrameWords]uint32
	n     int
	heap  uint32
	end   uint32
	err   error
}

func (e *encoder) u32(v uint32) {
	if e.n >= FrameWords {
		if e.err == nil {
			e.err = fmt.Errorf("message overflows a %d word frame", FrameWords)
		}
		return
	}
	e.frame[e.n] = v
	e.n++
}

func (e *encoder) int(v int) { e.u32(uint32(int32(v))) }

func (e *encoder) u64(v uint64) {
	e.u32(uint32(v))
	e.u32(uint32(v >> 32))
}

func (e *encoder) bool(b bool) {
	if b {
		e.u32(1)
	} else {
		e.u32(0)
	}
}

// payload copies b after the frame and returns its address.
func (e *encoder) payload(b []byte) uint32 {
	if len(b) == 0 || e.err != nil {
		return 0
	}
	ptr := e.heap
	if uint64(ptr)+uint64(len(b)) > uint64(e.end) {
		e.err = fmt.Errorf("payload of %d bytes does not fit the message buffer", len(b))
		return 0
	}
	if err := e.mem.WriteAt(b, ptr); err != nil {
		e.err = err
		return 0
	}
	e.heap = (ptr + uint32(len(b)) + 3) &^ 3
	return ptr
}

func (e *encoder) str(s string) {
	e.u32(e.payload([]byte(s)))
	e.u32(uint32(len(s)))
}

func (e *encoder) words(w []uint32) {
	b := make([]byte, 4*len(w))
	for i, v := range w {
		Order.PutUint32(b[4*i:], v)
	}
	e.u32(e.payload(b))
	e.u32(uint32(len(w)))
}

// decoder reads one frame. Every payload span is passed to check
// before it is read.
type decoder struct {
	mem   Memory
	frame [FrameWords]uint32
	n     int
	check func(ptr, n uint32) error
	err   error
}

func (d *decoder) u32() uint32 {
	if d.n >= FrameWords {
		if d.err == nil {
			d.err = &ProtocolError{Reason: fmt.Sprintf("message overflows a %d word frame", FrameWords)}
		}
		return 0
	}
	v := d.frame[d.n]
	d.n++
	return v
}

func (d *decoder) int() int { return int(int32(d.u32())) }

func (d *decoder) u64() uint64 {
	lo := d.u32()
	return uint64(lo) | uint64(d.u32())<<32
}

func (d *decoder) bool() bool { return d.u32() != 0 }

func (d *decoder) payload(ptr uint32, size uint64) []byte {
	if size == 0 || d.err != nil {
		return nil
	}
	if size > maxPayload {
		d.err = &ProtocolError{Reason: fmt.Sprintf("payload of %d bytes at 0x%08x is implausible", size, ptr)}
		return nil
	}
	if d.check != nil {
		if err := d.check(ptr, uint32(size)); err != nil {
			d.err = err
			return nil
		}
	}
	b := make([]byte, size)
	if err := d.mem.ReadAt(b, ptr); err != nil {
		d.err = err
		return nil
	}
	return b
}

func (d *decoder) str() string {
	ptr, n := d.u32(), d.u32()
	return string(d.payload(ptr, uint64(n)))
}

func (d *decoder) words() []uint32 {
	ptr, n := d.u32(), d.u32()
	b := d.payload(ptr, 4*uint64(n))
	if b == nil {
		return nil
	}
	w := make([]uint32, n)
	for i := range w {
		w[i] = Order.Uint32(b[4*i:])
	}
	return w
}

// writeMessage stores m as a frame at addr with its payload placed
// between the end of the frame and end.
func writeMessage(mem Memory, addr, end uint32, m Message) error {
	e := &encoder{mem: mem, heap: addr + FrameSize, end: end}
	e.u32(uint32(m.Tag()))
	m.encode(e)
	if e.err != nil {
		return fmt.Errorf("encode %s: %w", m.Tag(), e.err)
	}
	var b [FrameSize]byte
	for i, v := range e.frame {
		Order.PutUint32(b[4*i:], v)
	}
	return mem.WriteAt(b[:], addr)
}

// readMessage decodes the frame at addr.
func readMessage(mem Memory, addr uint32, check func(ptr, n uint32) error) (Message, error) {
	var b [FrameSize]byte
	if err := mem.ReadAt(b[:], addr); err != nil {
		return nil, err
	}
	d := &decoder{mem: mem, check: check}
	for i := range d.frame {
		d.frame[i] = Order.Uint32(b[4*i:])
	}
	t := Tag(d.u32())
	m := newMessage(t)
	if m == nil {
		return nil, &ProtocolError{Got: t, Reason: fmt.Sprintf("unknown message tag 0x%02x", uint32(t))}
	}
	m.decode(d)
	if d.err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, d.err)
	}
	return m, nil
}
