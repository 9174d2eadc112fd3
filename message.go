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

// Frame geometry. Every message occupies one fixed frame; strings and
// word slices follow the frame in the sender's buffer.
const (
	FrameWords = 32
	FrameSize  = FrameWords * 4
)

// Tag identifies the layout of a frame.
type Tag uint32

// Requests travel from the kernel core to the comms core, replies the other way.
const (
	TagI2cStartRequest     Tag = 0x01
	TagI2cRestartRequest   Tag = 0x02
	TagI2cStopRequest      Tag = 0x03
	TagI2cWriteRequest     Tag = 0x04
	TagI2cReadRequest      Tag = 0x05
	TagSpiSetConfigRequest Tag = 0x10
	TagSpiSetXferRequest   Tag = 0x11
	TagSpiWriteRequest     Tag = 0x12
	TagSpiReadRequest      Tag = 0x13
	TagCacheGetRequest     Tag = 0x20
	TagCachePutRequest     Tag = 0x21
	TagWatchdogSetRequest  Tag = 0x30
	TagWatchdogClear       Tag = 0x31
	TagLog                 Tag = 0x40
	TagRunFinished         Tag = 0x41
	TagRunException        Tag = 0x42

	TagI2cWriteReply    Tag = 0x84
	TagI2cReadReply     Tag = 0x85
	TagSpiReadReply     Tag = 0x93
	TagCacheGetReply    Tag = 0xa0
	TagCachePutReply    Tag = 0xa1
	TagWatchdogSetReply Tag = 0xb0
)

var tagNames = map[Tag]string{
	TagI2cStartRequest:     "I2cStartRequest",
	TagI2cRestartRequest:   "I2cRestartRequest",
	TagI2cStopRequest:      "I2cStopRequest",
	TagI2cWriteRequest:     "I2cWriteRequest",
	TagI2cReadRequest:      "I2cReadRequest",
	TagSpiSetConfigRequest: "SpiSetConfigRequest",
	TagSpiSetXferRequest:   "SpiSetXferRequest",
	TagSpiWriteRequest:     "SpiWriteRequest",
	TagSpiReadRequest:      "SpiReadRequest",
	TagCacheGetRequest:     "CacheGetRequest",
	TagCachePutRequest:     "CachePutRequest",
	TagWatchdogSetRequest:  "WatchdogSetRequest",
	TagWatchdogClear:       "WatchdogClear",
	TagLog:                 "Log",
	TagRunFinished:         "RunFinished",
	TagRunException:        "RunException",
	TagI2cWriteReply:       "I2cWriteReply",
	TagI2cReadReply:        "I2cReadReply",
	TagSpiReadReply:        "SpiReadReply",
	TagCacheGetReply:       "CacheGetReply",
	TagCachePutReply:       "CachePutReply",
	TagWatchdogSetReply:    "WatchdogSetReply",
}

var replies = map[Tag]Tag{
	TagI2cWriteRequest:    TagI2cWriteReply,
	TagI2cReadRequest:     TagI2cReadReply,
	TagSpiReadRequest:     TagSpiReadReply,
	TagCacheGetRequest:    TagCacheGetReply,
	TagCachePutRequest:    TagCachePutReply,
	TagWatchdogSetRequest: TagWatchdogSetReply,
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Tag(0x%02x)", uint32(t))
}

// Reply returns the tag the peer must answer t with, or zero for one-way messages.
func (t Tag) Reply() Tag {
	return replies[t]
}

// IsReply reports whether t travels from the comms core to the kernel core.
func (t Tag) IsReply() bool {
	return t >= 0x80
}

// Message is a request or reply carried by one frame.
type Message interface {
	Tag() Tag
	encode(e *encoder)
	decode(d *decoder)
}

func newMessage(t Tag) Message {
	switch t {
	case TagI2cStartRequest:
		return &I2cStartRequest{}
	case TagI2cRestartRequest:
		return &I2cRestartRequest{}
	case TagI2cStopRequest:
		return &I2cStopRequest{}
	case TagI2cWriteRequest:
		return &I2cWriteRequest{}
	case TagI2cReadRequest:
		return &I2cReadRequest{}
	case TagSpiSetConfigRequest:
		return &SpiSetConfigRequest{}
	case TagSpiSetXferRequest:
		return &SpiSetXferRequest{}
	case TagSpiWriteRequest:
		return &SpiWriteRequest{}
	case TagSpiReadRequest:
		return &SpiReadRequest{}
	case TagCacheGetRequest:
		return &CacheGetRequest{}
	case TagCachePutRequest:
		return &CachePutRequest{}
	case TagWatchdogSetRequest:
		return &WatchdogSetRequest{}
	case TagWatchdogClear:
		return &WatchdogClear{}
	case TagLog:
		return &Log{}
	case TagRunFinished:
		return &RunFinished{}
	case TagRunException:
		return &RunException{}
	case TagI2cWriteReply:
		return &I2cWriteReply{}
	case TagI2cReadReply:
		return &I2cReadReply{}
	case TagSpiReadReply:
		return &SpiReadReply{}
	case TagCacheGetReply:
		return &CacheGetReply{}
	case TagCachePutReply:
		return &CachePutReply{}
	case TagWatchdogSetReply:
		return &WatchdogSetReply{}
	}
	return nil
}

type I2cStartRequest struct{ Bus int }
type I2cRestartRequest struct{ Bus int }
type I2cStopRequest struct{ Bus int }

type I2cWriteRequest struct {
	Bus  int
	Data byte
}

type I2cWriteReply struct {
	Succeeded bool
	Ack       bool
}

type I2cReadRequest struct {
	Bus int
	Ack bool
}

type I2cReadReply struct {
	Succeeded bool
	Data      byte
}

type SpiSetConfigRequest struct {
	Bus      int
	Flags    uint32
	WriteDiv uint32
	ReadDiv  uint32
}

type SpiSetXferRequest struct {
	Bus         int
	ChipSelect  uint16
	WriteLength uint8
	ReadLength  uint8
}

type SpiWriteRequest struct {
	Bus  int
	Data uint32
}

type SpiReadRequest struct{ Bus int }

type SpiReadReply struct {
	Succeeded bool
	Data      uint32
}

type CacheGetRequest struct{ Key string }
type CacheGetReply struct{ Value []uint32 }

type CachePutRequest struct {
	Key   string
	Value []uint32
}

type CachePutReply struct{ Succeeded bool }

type WatchdogSetRequest struct{ Ms uint64 }

type WatchdogSetReply struct {
	Succeeded bool
	ID        int
}

type WatchdogClear struct{ ID int }

// Log carries a line of kernel-core log output.
type Log struct{ Text string }

// RunFinished reports that the kernel returned normally.
type RunFinished struct{}

// Exception is an uncaught exception raised by kernel-core code.
type Exception struct {
	Name     string
	Message  string
	Params   [3]int64
	File     string
	Line     uint32
	Column   uint32
	Function string
}

func (e Exception) String() string {
	return fmt.Sprintf("%s(%s) at %s:%d:%d in %s", e.Name, e.Message, e.File, e.Line, e.Column, e.Function)
}

// RunException reports that the kernel terminated with an exception.
type RunException struct{ Exception Exception }

func (*I2cStartRequest) Tag() Tag     { return TagI2cStartRequest }
func (*I2cRestartRequest) Tag() Tag   { return TagI2cRestartRequest }
func (*I2cStopRequest) Tag() Tag      { return TagI2cStopRequest }
func (*I2cWriteRequest) Tag() Tag     { return TagI2cWriteRequest }
func (*I2cWriteReply) Tag() Tag       { return TagI2cWriteReply }
func (*I2cReadRequest) Tag() Tag      { return TagI2cReadRequest }
func (*I2cReadReply) Tag() Tag        { return TagI2cReadReply }
func (*SpiSetConfigRequest) Tag() Tag { return TagSpiSetConfigRequest }
func (*SpiSetXferRequest) Tag() Tag   { return TagSpiSetXferRequest }
func (*SpiWriteRequest) Tag() Tag     { return TagSpiWriteRequest }
func (*SpiReadRequest) Tag() Tag      { return TagSpiReadRequest }
func (*SpiReadReply) Tag() Tag        { return TagSpiReadReply }
func (*CacheGetRequest) Tag() Tag     { return TagCacheGetRequest }
func (*CacheGetReply) Tag() Tag       { return TagCacheGetReply }
func (*CachePutRequest) Tag() Tag     { return TagCachePutRequest }
func (*CachePutReply) Tag() Tag       { return TagCachePutReply }
func (*WatchdogSetRequest) Tag() Tag  { return TagWatchdogSetRequest }
func (*WatchdogSetReply) Tag() Tag    { return TagWatchdogSetReply }
func (*WatchdogClear) Tag() Tag       { return TagWatchdogClear }
func (*Log) Tag() Tag                 { return TagLog }
func (*RunFinished) Tag() Tag         { return TagRunFinished }
func (*RunException) Tag() Tag        { return TagRunException }

func (m *I2cStartRequest) encode(e *encoder)   { e.int(m.Bus) }
func (m *I2cStartRequest) decode(d *decoder)   { m.Bus = d.int() }
func (m *I2cRestartRequest) encode(e *encoder) { e.int(m.Bus) }
func (m *I2cRestartRequest) decode(d *decoder) { m.Bus = d.int() }
func (m *I2cStopRequest) encode(e *encoder)    { e.int(m.Bus) }
func (m *I2cStopRequest) decode(d *decoder)    { m.Bus = d.int() }

func (m *I2cWriteRequest) encode(e *encoder) {
	e.int(m.Bus)
	e.u32(uint32(m.Data))
}

func (m *I2cWriteRequest) decode(d *decoder) {
	m.Bus = d.int()
	m.Data = byte(d.u32())
}

func (m *I2cWriteReply) encode(e *encoder) {
	e.bool(m.Succeeded)
	e.bool(m.Ack)
}

func (m *I2cWriteReply) decode(d *decoder) {
	m.Succeeded = d.bool()
	m.Ack = d.bool()
}

func (m *I2cReadRequest) encode(e *encoder) {
	e.int(m.Bus)
	e.bool(m.Ack)
}

func (m *I2cReadRequest) decode(d *decoder) {
	m.Bus = d.int()
	m.Ack = d.bool()
}

func (m *I2cReadReply) encode(e *encoder) {
	e.bool(m.Succeeded)
	e.u32(uint32(m.Data))
}

func (m *I2cReadReply) decode(d *decoder) {
	m.Succeeded = d.bool()
	m.Data = byte(d.u32())
}

func (m *SpiSetConfigRequest) encode(e *encoder) {
	e.int(m.Bus)
	e.u32(m.Flags)
	e.u32(m.WriteDiv)
	e.u32(m.ReadDiv)
}

func (m *SpiSetConfigRequest) decode(d *decoder) {
	m.Bus = d.int()
	m.Flags = d.u32()
	m.WriteDiv = d.u32()
	m.ReadDiv = d.u32()
}

func (m *SpiSetXferRequest) encode(e *encoder) {
	e.int(m.Bus)
	e.u32(uint32(m.ChipSelect))
	e.u32(uint32(m.WriteLength))
	e.u32(uint32(m.ReadLength))
}

func (m *SpiSetXferRequest) decode(d *decoder) {
	m.Bus = d.int()
	m.ChipSelect = uint16(d.u32())
	m.WriteLength = uint8(d.u32())
	m.ReadLength = uint8(d.u32())
}

func (m *SpiWriteRequest) encode(e *encoder) {
	e.int(m.Bus)
	e.u32(m.Data)
}

func (m *SpiWriteRequest) decode(d *decoder) {
	m.Bus = d.int()
	m.Data = d.u32()
}

func (m *SpiReadRequest) encode(e *encoder) { e.int(m.Bus) }
func (m *SpiReadRequest) decode(d *decoder) { m.Bus = d.int() }

func (m *SpiReadReply) encode(e *encoder) {
	e.bool(m.Succeeded)
	e.u32(m.Data)
}

func (m *SpiReadReply) decode(d *decoder) {
	m.Succeeded = d.bool()
	m.Data = d.u32()
}

func (m *CacheGetRequest) encode(e *encoder) { e.str(m.Key) }
func (m *CacheGetRequest) decode(d *decoder) { m.Key = d.str() }
func (m *CacheGetReply) encode(e *encoder)   { e.words(m.Value) }
func (m *CacheGetReply) decode(d *decoder)   { m.Value = d.words() }

func (m *CachePutRequest) encode(e *encoder) {
	e.str(m.Key)
	e.words(m.Value)
}

func (m *CachePutRequest) decode(d *decoder) {
	m.Key = d.str()
	m.Value = d.words()
}

func (m *CachePutReply) encode(e *encoder)      { e.bool(m.Succeeded) }
func (m *CachePutReply) decode(d *decoder)      { m.Succeeded = d.bool() }
func (m *WatchdogSetRequest) encode(e *encoder) { e.u64(m.Ms) }
func (m *WatchdogSetRequest) decode(d *decoder) { m.Ms = d.u64() }

func (m *WatchdogSetReply) encode(e *encoder) {
	e.bool(m.Succeeded)
	e.int(m.ID)
}

func (m *WatchdogSetReply) decode(d *decoder) {
	m.Succeeded = d.bool()
	m.ID = d.int()
}

func (m *WatchdogClear) encode(e *encoder) { e.int(m.ID) }
func (m *WatchdogClear) decode(d *decoder) { m.ID = d.int() }
func (m *Log) encode(e *encoder)           { e.str(m.Text) }
func (m *Log) decode(d *decoder)           { m.Text = d.str() }

func (*RunFinished) encode(*encoder) {}
func (*RunFinished) decode(*decoder) {}

func (m *RunException) encode(e *encoder) {
	x := &m.Exception
	e.str(x.Name)
	e.str(x.Message)
	for _, p := range x.Params {
		e.u64(uint64(p))
	}
	e.str(x.File)
	e.u32(x.Line)
	e.u32(x.Column)
	e.str(x.Function)
}

func (m *RunException) decode(d *decoder) {
	x := &m.Exception
	x.Name = d.str()
	x.Message = d.str()
	for i := range x.Params {
		x.Params[i] = int64(d.u64())
	}
	x.File = d.str()
	x.Line = d.u32()
	x.Column = d.u32()
	x.Function = d.str()
}
