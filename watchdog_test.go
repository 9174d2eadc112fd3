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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatchdogSlots(t *testing.T) {
	t.Parallel()

	w := NewWatchdogSet(&fakeClock{})
	seen := map[int]bool{}
	for i := 0; i < MaxWatchdogs; i++ {
		id, err := w.SetMs(1000)
		require.NoError(t, err)
		require.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	_, err := w.SetMs(1000)
	require.ErrorIs(t, err, ErrWatchdogsExhausted)

	w.Clear(5)
	id, err := w.SetMs(1000)
	require.NoError(t, err)
	require.Equal(t, 5, id)
	require.Equal(t, MaxWatchdogs, w.Active())
}

func TestWatchdogClearOutOfRange(t *testing.T) {
	t.Parallel()

	w := NewWatchdogSet(&fakeClock{})
	_, err := w.SetMs(10)
	require.NoError(t, err)
	w.Clear(-1)
	w.Clear(MaxWatchdogs)
	w.Clear(3)
	require.Equal(t, 1, w.Active())
}

func TestWatchdogExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	w := NewWatchdogSet(clock)
	late, err := w.SetMs(300)
	require.NoError(t, err)
	early, err := w.SetMs(100)
	require.NoError(t, err)

	_, ok := w.Expired()
	require.False(t, ok)

	clock.advance(100)
	_, ok = w.Expired()
	require.False(t, ok, "a deadline is reached only once it has passed")

	clock.advance(1)
	id, ok := w.Expired()
	require.True(t, ok)
	require.Equal(t, early, id)

	clock.advance(500)
	id, ok = w.Expired()
	require.True(t, ok)
	require.Equal(t, early, id, "the earliest deadline wins")

	w.Clear(early)
	id, ok = w.Expired()
	require.True(t, ok)
	require.Equal(t, late, id)

	w.ClearAll()
	_, ok = w.Expired()
	require.False(t, ok)
	require.Zero(t, w.Active())
}

func TestWatchdogTieGoesToLowestSlot(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	w := NewWatchdogSet(clock)
	for i := 0; i < 3; i++ {
		_, err := w.SetMs(50)
		require.NoError(t, err)
	}
	w.Clear(0)
	clock.advance(51)
	id, ok := w.Expired()
	require.True(t, ok)
	require.Equal(t, 1, id)
}

func TestWatchdogHugeIntervalNeverExpires(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{ms: 10}
	w := NewWatchdogSet(clock)
	id, err := w.SetMs(math.MaxUint64)
	require.NoError(t, err)
	_, ok := w.Expired()
	require.False(t, ok, "the deadline saturates instead of wrapping")

	clock.advance(math.MaxUint64 - 10)
	_, ok = w.Expired()
	require.False(t, ok)
	w.Clear(id)
	require.Zero(t, w.Active())
}
