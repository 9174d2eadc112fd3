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
	"sync"
)

type callState int

const (
	stateIdle callState = iota
	stateAwaitingReply
	stateAwaitingAck
)

// Client is the kernel core's end of the service tunnel.
//
// Every call blocks until the comms core has answered it. At most one
// message is ever in the mailbox: a one-way call returns as soon as it is
// sent, and the next call waits for it to be acknowledged first. A call made
// while another is in progress, a reply with the wrong tag or an abandoned
// wait leaves the channel untrustworthy; the client then refuses every
// further call with the same error.
type Client struct {
	ch    *Channel
	mem   Memory
	buf   uint32
	limit uint32
	spin  Spinner

	mu    sync.Mutex
	state callState
	err   error
}

// NewClient returns a client building its messages in the size bytes of
// kernel memory at buf.
func NewClient(ch *Channel, mem Memory, buf, size uint32, spin Spinner) (*Client, error) {
	if size < FrameSize {
		return nil, fmt.Errorf("message buffer of %d bytes cannot hold a frame", size)
	}
	if spin == nil {
		spin = Forever
	}
	return &Client{ch: ch, mem: mem, buf: buf, limit: buf + size, spin: spin}, nil
}

// Err returns the error that stopped the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) begin() (callState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	if c.state == stateAwaitingReply {
		c.err = &ProtocolError{Reason: "call issued while another is outstanding"}
		return 0, c.err
	}
	prev := c.state
	c.state = stateAwaitingReply
	return prev, nil
}

// settle records the state the channel is left in after a call.
func (c *Client) settle(next callState) {
	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
}

// poison stops the client for good.
func (c *Client) poison(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	return c.err
}

// Call sends req and, unless req is one-way, waits for its reply.
// The reply is nil for one-way requests.
func (c *Client) Call(req Message) (Message, error) {
	prev, err := c.begin()
	if err != nil {
		return nil, err
	}
	if prev == stateAwaitingAck {
		if err := wait(c.spin, c.ch.Acknowledged); err != nil {
			return nil, c.poison(err)
		}
	}
	if err := writeMessage(c.mem, c.buf, c.limit, req); err != nil {
		// Nothing was sent, so the channel is still usable.
		c.settle(stateIdle)
		return nil, err
	}
	c.ch.Send(c.buf)
	expect := req.Tag().Reply()
	if expect == 0 {
		c.settle(stateAwaitingAck)
		return nil, nil
	}
	var addr uint32
	err = wait(c.spin, func() bool {
		var ok bool
		addr, ok = c.ch.Receive()
		return ok
	})
	if err != nil {
		return nil, c.poison(err)
	}
	reply, err := readMessage(c.mem, addr, nil)
	if err != nil {
		return nil, c.poison(err)
	}
	if reply.Tag() != expect {
		return nil, c.poison(&ProtocolError{Got: reply.Tag(), Expect: expect})
	}
	c.ch.Acknowledge()
	c.settle(stateIdle)
	return reply, nil
}

func (c *Client) send(req Message) error {
	_, err := c.Call(req)
	return err
}

func (c *Client) I2cStart(bus int) error   { return c.send(&I2cStartRequest{Bus: bus}) }
func (c *Client) I2cRestart(bus int) error { return c.send(&I2cRestartRequest{Bus: bus}) }
func (c *Client) I2cStop(bus int) error    { return c.send(&I2cStopRequest{Bus: bus}) }

// I2cWrite writes one byte and reports whether it was acknowledged.
func (c *Client) I2cWrite(bus int, data byte) (bool, error) {
	m, err := c.Call(&I2cWriteRequest{Bus: bus, Data: data})
	if err != nil {
		return false, err
	}
	r := m.(*I2cWriteReply)
	if !r.Succeeded {
		return false, fmt.Errorf("i2c%d: %w", bus, ErrNoSuchBus)
	}
	return r.Ack, nil
}

// I2cRead reads one byte, acknowledging it if ack is set.
func (c *Client) I2cRead(bus int, ack bool) (byte, error) {
	m, err := c.Call(&I2cReadRequest{Bus: bus, Ack: ack})
	if err != nil {
		return 0, err
	}
	r := m.(*I2cReadReply)
	if !r.Succeeded {
		return 0, fmt.Errorf("i2c%d: %w", bus, ErrNoSuchBus)
	}
	return r.Data, nil
}

func (c *Client) SpiSetConfig(bus int, flags, writeDiv, readDiv uint32) error {
	return c.send(&SpiSetConfigRequest{Bus: bus, Flags: flags, WriteDiv: writeDiv, ReadDiv: readDiv})
}

func (c *Client) SpiSetXfer(bus int, chipSelect uint16, writeLength, readLength uint8) error {
	return c.send(&SpiSetXferRequest{Bus: bus, ChipSelect: chipSelect, WriteLength: writeLength, ReadLength: readLength})
}

func (c *Client) SpiWrite(bus int, data uint32) error {
	return c.send(&SpiWriteRequest{Bus: bus, Data: data})
}

func (c *Client) SpiRead(bus int) (uint32, error) {
	m, err := c.Call(&SpiReadRequest{Bus: bus})
	if err != nil {
		return 0, err
	}
	r := m.(*SpiReadReply)
	if !r.Succeeded {
		return 0, fmt.Errorf("spi%d: %w", bus, ErrNoSuchBus)
	}
	return r.Data, nil
}

// CacheGet returns the artifact stored under key, or nil.
func (c *Client) CacheGet(key string) ([]uint32, error) {
	m, err := c.Call(&CacheGetRequest{Key: key})
	if err != nil {
		return nil, err
	}
	return m.(*CacheGetReply).Value, nil
}

// CachePut stores an artifact. It fails with ErrBorrowed once key has been read.
func (c *Client) CachePut(key string, value []uint32) error {
	m, err := c.Call(&CachePutRequest{Key: key, Value: value})
	if err != nil {
		return err
	}
	if !m.(*CachePutReply).Succeeded {
		return fmt.Errorf("cache %q: %w", key, ErrBorrowed)
	}
	return nil
}

// WatchdogSet arms a watchdog expiring in ms milliseconds.
func (c *Client) WatchdogSet(ms uint64) (int, error) {
	m, err := c.Call(&WatchdogSetRequest{Ms: ms})
	if err != nil {
		return 0, err
	}
	r := m.(*WatchdogSetReply)
	if !r.Succeeded {
		return 0, ErrWatchdogsExhausted
	}
	return r.ID, nil
}

func (c *Client) WatchdogClear(id int) error { return c.send(&WatchdogClear{ID: id}) }

// Log writes text to the comms core's log.
func (c *Client) Log(text string) error { return c.send(&Log{Text: text}) }

// Finish reports that the kernel returned normally.
func (c *Client) Finish() error { return c.send(&RunFinished{}) }

// Raise reports that the kernel terminated with x.
func (c *Client) Raise(x Exception) error { return c.send(&RunException{Exception: x}) }
