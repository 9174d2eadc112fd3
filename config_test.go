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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	c, err := LoadConfig("", DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), c)
	_, ok := c.Poll.Spinner().(Bounded)
	require.False(t, ok, "zero attempts waits forever")
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "board.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[layout]
last_address = 0x4080ffff

[board]
i2c_buses = 1
spi_base = 0xe0009000

[poll]
attempts = 500
interval = "2ms"
`), 0o644))

	c, err := LoadConfig(path, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, uint32(0x4080ffff), c.Layout.LastAddress)
	require.Equal(t, uint32(KernelCPUExecAddress), c.Layout.ExecAddress)
	require.Equal(t, 1, c.Board.I2CBuses)
	require.Equal(t, uint32(0xe0009000), c.Board.SPIBase)
	require.Equal(t, 2, c.Board.SPIBuses)
	require.Equal(t, Bounded{Attempts: 500, Interval: 2 * time.Millisecond}, c.Poll.Spinner())
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("SPLITCORE_BOARD_SPI_BUSES", "3")
	t.Setenv("SPLITCORE_POLL_INTERVAL", "5ms")

	c, err := LoadConfig("", DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, 3, c.Board.SPIBuses)
	require.Equal(t, 5*time.Millisecond, c.Poll.Interval)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"), DefaultConfig())
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[layout]\nscratch_address = 0x40800000\n"), 0o644))
	_, err = LoadConfig(path, DefaultConfig())
	require.ErrorContains(t, err, "overlaps")
}
