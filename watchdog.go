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
	"math"
	"time"
)

// MaxWatchdogs is the number of watchdog slots.
const MaxWatchdogs = 16

// Clock is a monotonic millisecond clock.
type Clock interface {
	NowMs() uint64
}

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a clock reading zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

func (c *SystemClock) NowMs() uint64 {
	return uint64(time.Since(c.epoch).Milliseconds())
}

type watchdog struct {
	active   bool
	deadline uint64
}

// WatchdogSet is a fixed set of deadlines armed by the kernel core.
// An expired watchdog stays armed until it is cleared.
type WatchdogSet struct {
	clock Clock
	slots [MaxWatchdogs]watchdog
}

// NewWatchdogSet returns a set with every slot free.
func NewWatchdogSet(clock Clock) *WatchdogSet {
	return &WatchdogSet{clock: clock}
}

// SetMs arms the first free slot to expire in ms milliseconds and returns its index.
func (w *WatchdogSet) SetMs(ms uint64) (int, error) {
	for i := range w.slots {
		if !w.slots[i].active {
			w.slots[i] = watchdog{active: true, deadline: deadline(w.clock.NowMs(), ms)}
			return i, nil
		}
	}
	return 0, ErrWatchdogsExhausted
}

// deadline saturates, so a huge interval never expires instead of wrapping into the past.
func deadline(now, ms uint64) uint64 {
	if ms > math.MaxUint64-now {
		return math.MaxUint64
	}
	return now + ms
}

// Clear frees slot id. Indices out of range are ignored.
func (w *WatchdogSet) Clear(id int) {
	if id >= 0 && id < len(w.slots) {
		w.slots[id].active = false
	}
}

// ClearAll frees every slot.
func (w *WatchdogSet) ClearAll() {
	w.slots = [MaxWatchdogs]watchdog{}
}

// Expired returns the armed slot whose deadline passed first.
func (w *WatchdogSet) Expired() (int, bool) {
	now := w.clock.NowMs()
	id, found := 0, false
	for i, s := range w.slots {
		if !s.active || now <= s.deadline {
			continue
		}
		if !found || s.deadline < w.slots[id].deadline {
			id, found = i, true
		}
	}
	return id, found
}

// Active returns the number of armed slots.
func (w *WatchdogSet) Active() int {
	n := 0
	for _, s := range w.slots {
		if s.active {
			n++
		}
	}
	return n
}
