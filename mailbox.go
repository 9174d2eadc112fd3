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
	"runtime"
	"time"
)

// Channel is one core's end of the mailbox.
//
// The mailbox holds a single word: zero when idle, otherwise the address of
// a message frame written by whichever core stored it. Both ends keep the
// value they last stored so that their own message is never mistaken for
// one from the peer.
type Channel struct {
	reg  Register
	cc   CacheControl
	last uint32
}

// NewChannel returns a channel over the mailbox register.
func NewChannel(reg Register, cc CacheControl) *Channel {
	if cc == nil {
		cc = NoCache{}
	}
	return &Channel{reg: reg, cc: cc}
}

// publish is run every time a value crosses the core boundary, in either
// direction, so that neither core works from stale cache lines.
func (c *Channel) publish() {
	c.cc.Flush()
}

// Send stores v in the mailbox. A message not yet consumed by the peer is overwritten.
func (c *Channel) Send(v uint32) {
	c.publish()
	c.last = v
	c.reg.Store(v)
}

// Receive returns the value in the mailbox if it was stored by the peer.
func (c *Channel) Receive() (uint32, bool) {
	v := c.reg.Load()
	if v == 0 || v == c.last {
		return 0, false
	}
	c.publish()
	return v, true
}

// Acknowledge marks the mailbox as consumed.
func (c *Channel) Acknowledge() {
	c.reg.Store(0)
}

// Acknowledged reports whether the peer has consumed the last value sent.
func (c *Channel) Acknowledged() bool {
	v := c.reg.Load()
	return v == 0 || v != c.last
}

// Reset forgets the last value sent.
func (c *Channel) Reset() {
	c.last = 0
}

// Spinner decides what happens each time a poll of the peer finds nothing.
// A non-nil error ends the wait.
type Spinner interface {
	Spin(attempt int) error
}

// SpinFunc adapts a function to a Spinner.
type SpinFunc func(attempt int) error

func (f SpinFunc) Spin(attempt int) error { return f(attempt) }

// Forever waits indefinitely, yielding the processor between polls.
var Forever Spinner = SpinFunc(func(int) error {
	runtime.Gosched()
	return nil
})

// Bounded gives up with ErrTimeout after Attempts empty polls.
type Bounded struct {
	Attempts int
	Interval time.Duration
}

func (b Bounded) Spin(attempt int) error {
	if attempt >= b.Attempts {
		return ErrTimeout
	}
	if b.Interval > 0 {
		time.Sleep(b.Interval)
	} else {
		runtime.Gosched()
	}
	return nil
}

// wait polls cond until it holds or s gives up.
func wait(s Spinner, cond func() bool) error {
	for n := 0; !cond(); n++ {
		if err := s.Spin(n); err != nil {
			return err
		}
	}
	return nil
}
