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
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the board description and polling policy.
type Config struct {
	Layout Layout      `mapstructure:"layout"`
	Board  BoardConfig `mapstructure:"board"`
	Poll   PollConfig  `mapstructure:"poll"`
}

// BoardConfig locates the bus controllers.
type BoardConfig struct {
	I2CBase  uint32 `mapstructure:"i2c_base"`
	I2CBuses int    `mapstructure:"i2c_buses"`
	SPIBase  uint32 `mapstructure:"spi_base"`
	SPIBuses int    `mapstructure:"spi_buses"`
}

// PollConfig bounds the busy waits of the bus controllers and of
// kernel-side clients. Zero attempts means waiting forever.
type PollConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

// Spinner returns the wait policy described by p.
func (p PollConfig) Spinner() Spinner {
	if p.Attempts <= 0 {
		return Forever
	}
	return Bounded{Attempts: p.Attempts, Interval: p.Interval}
}

// DefaultConfig describes the hardware.
func DefaultConfig() Config {
	return Config{
		Layout: DefaultLayout,
		Board: BoardConfig{
			I2CBase:  0xe0005000,
			I2CBuses: 2,
			SPIBase:  0xe0005800,
			SPIBuses: 2,
		},
	}
}

// LoadConfig reads the toml file at path, if path is set, over defaults.
// Environment variables prefixed SPLITCORE_ override both, for example
// SPLITCORE_LAYOUT_LAST_ADDRESS.
func LoadConfig(path string, defaults Config) (Config, error) {
	v := viper.New()

	l := defaults.Layout
	v.SetDefault("layout.exec_address", l.ExecAddress)
	v.SetDefault("layout.last_address", l.LastAddress)
	v.SetDefault("layout.header_size", l.HeaderSize)
	v.SetDefault("layout.mailbox_base", l.MailboxBase)
	v.SetDefault("layout.reset_address", l.ResetAddress)
	v.SetDefault("layout.scratch_address", l.ScratchAddress)
	v.SetDefault("layout.scratch_size", l.ScratchSize)
	b := defaults.Board
	v.SetDefault("board.i2c_base", b.I2CBase)
	v.SetDefault("board.i2c_buses", b.I2CBuses)
	v.SetDefault("board.spi_base", b.SPIBase)
	v.SetDefault("board.spi_buses", b.SPIBuses)
	v.SetDefault("poll.attempts", defaults.Poll.Attempts)
	v.SetDefault("poll.interval", defaults.Poll.Interval)

	v.SetConfigType("toml")
	v.SetEnvPrefix("SPLITCORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Layout.Check(); err != nil {
		return Config{}, err
	}
	return c, nil
}
