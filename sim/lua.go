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

package sim

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/rich1111/splitcore"
)

// bindings holds the state shared by the Lua bindings of one run.
type bindings struct {
	client *splitcore.Client
	fatal  error
}

// RunScript runs a kernel program against client. A normal return is
// reported with RunFinished and a Lua error with RunException. If the
// tunnel itself fails nothing more is sent and the failure is returned.
func RunScript(ctx context.Context, client *splitcore.Client, name string, src []byte) error {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	rt := &bindings{client: client}
	for fn, f := range map[string]lua.LGFunction{
		"log":            rt.log,
		"raise":          rt.raise,
		"i2c_start":      rt.i2cStart,
		"i2c_restart":    rt.i2cRestart,
		"i2c_stop":       rt.i2cStop,
		"i2c_write":      rt.i2cWrite,
		"i2c_read":       rt.i2cRead,
		"spi_set_config": rt.spiSetConfig,
		"spi_set_xfer":   rt.spiSetXfer,
		"spi_write":      rt.spiWrite,
		"spi_read":       rt.spiRead,
		"cache_get":      rt.cacheGet,
		"cache_put":      rt.cachePut,
		"watchdog_set":   rt.watchdogSet,
		"watchdog_clear": rt.watchdogClear,
	} {
		L.SetGlobal(fn, L.NewFunction(f))
	}

	fn, err := L.Load(strings.NewReader(string(src)), name)
	if err == nil {
		L.Push(fn)
		err = L.PCall(0, lua.MultRet, nil)
	}
	if rt.fatal != nil {
		return rt.fatal
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err != nil {
		if rerr := client.Raise(exception(err)); rerr != nil {
			return rerr
		}
		return err
	}
	return client.Finish()
}

// check turns a failed call into a Lua error. Tunnel failures are also
// recorded so that a pcall in the script cannot hide them.
func (rt *bindings) check(L *lua.LState, err error) {
	if err == nil {
		return
	}
	if rt.client.Err() != nil && rt.fatal == nil {
		rt.fatal = err
	}
	L.RaiseError("%v", err)
}

func (rt *bindings) log(L *lua.LState) int {
	var parts []string
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	rt.check(L, rt.client.Log(strings.Join(parts, " ")))
	return 0
}

// raise throws a named exception: raise(name, message).
func (rt *bindings) raise(L *lua.LState) int {
	t := L.NewTable()
	t.RawSetString("name", lua.LString(L.CheckString(1)))
	t.RawSetString("message", lua.LString(L.OptString(2, "")))
	if dbg, ok := L.GetStack(1); ok {
		if _, err := L.GetInfo("nSl", dbg, lua.LNil); err == nil {
			t.RawSetString("file", lua.LString(dbg.Source))
			t.RawSetString("line", lua.LNumber(dbg.CurrentLine))
			t.RawSetString("function", lua.LString(dbg.Name))
		}
	}
	L.Error(t, 1)
	return 0
}

func (rt *bindings) i2cStart(L *lua.LState) int {
	rt.check(L, rt.client.I2cStart(L.CheckInt(1)))
	return 0
}

func (rt *bindings) i2cRestart(L *lua.LState) int {
	rt.check(L, rt.client.I2cRestart(L.CheckInt(1)))
	return 0
}

func (rt *bindings) i2cStop(L *lua.LState) int {
	rt.check(L, rt.client.I2cStop(L.CheckInt(1)))
	return 0
}

func (rt *bindings) i2cWrite(L *lua.LState) int {
	ack, err := rt.client.I2cWrite(L.CheckInt(1), byte(L.CheckInt(2)))
	rt.check(L, err)
	L.Push(lua.LBool(ack))
	return 1
}

func (rt *bindings) i2cRead(L *lua.LState) int {
	b, err := rt.client.I2cRead(L.CheckInt(1), L.OptBool(2, false))
	rt.check(L, err)
	L.Push(lua.LNumber(b))
	return 1
}

func (rt *bindings) spiSetConfig(L *lua.LState) int {
	rt.check(L, rt.client.SpiSetConfig(L.CheckInt(1), checkU32(L, 2), checkU32(L, 3), checkU32(L, 4)))
	return 0
}

func (rt *bindings) spiSetXfer(L *lua.LState) int {
	rt.check(L, rt.client.SpiSetXfer(L.CheckInt(1), uint16(L.CheckInt(2)), uint8(L.CheckInt(3)), uint8(L.CheckInt(4))))
	return 0
}

func (rt *bindings) spiWrite(L *lua.LState) int {
	rt.check(L, rt.client.SpiWrite(L.CheckInt(1), checkU32(L, 2)))
	return 0
}

func (rt *bindings) spiRead(L *lua.LState) int {
	v, err := rt.client.SpiRead(L.CheckInt(1))
	rt.check(L, err)
	L.Push(lua.LNumber(v))
	return 1
}

func (rt *bindings) cacheGet(L *lua.LState) int {
	words, err := rt.client.CacheGet(L.CheckString(1))
	rt.check(L, err)
	t := L.CreateTable(len(words), 0)
	for _, w := range words {
		t.Append(lua.LNumber(w))
	}
	L.Push(t)
	return 1
}

func (rt *bindings) cachePut(L *lua.LState) int {
	t := L.CheckTable(2)
	words := make([]uint32, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		n, ok := t.RawGetInt(i).(lua.LNumber)
		if !ok {
			L.ArgError(2, "cache values must be numbers")
		}
		words = append(words, uint32(n))
	}
	rt.check(L, rt.client.CachePut(L.CheckString(1), words))
	return 0
}

func (rt *bindings) watchdogSet(L *lua.LState) int {
	id, err := rt.client.WatchdogSet(uint64(L.CheckInt64(1)))
	rt.check(L, err)
	L.Push(lua.LNumber(id))
	return 1
}

func (rt *bindings) watchdogClear(L *lua.LState) int {
	rt.check(L, rt.client.WatchdogClear(L.CheckInt(1)))
	return 0
}

func checkU32(L *lua.LState, n int) uint32 {
	return uint32(L.CheckInt64(n))
}

var wherePrefix = regexp.MustCompile(`^(.*?):(\d+): (.*)$`)

// exception converts a Lua error into the record sent to the comms core.
func exception(err error) splitcore.Exception {
	x := splitcore.Exception{Name: "RuntimeError", Message: err.Error()}
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return x
	}
	if t, ok := apiErr.Object.(*lua.LTable); ok {
		x.Name = lua.LVAsString(t.RawGetString("name"))
		x.Message = lua.LVAsString(t.RawGetString("message"))
		x.File = lua.LVAsString(t.RawGetString("file"))
		x.Function = lua.LVAsString(t.RawGetString("function"))
		if line, ok := t.RawGetString("line").(lua.LNumber); ok {
			x.Line = uint32(line)
		}
		return x
	}
	msg := apiErr.Object.String()
	x.Message = msg
	if m := wherePrefix.FindStringSubmatch(msg); m != nil {
		x.File = m[1]
		if line, err := strconv.Atoi(m[2]); err == nil {
			x.Line = uint32(line)
		}
		x.Message = m[3]
	}
	return x
}
