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
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
)

// Events receives what the kernel core reports about its run.
type Events interface {
	Finished()
	Exception(x Exception)
	WatchdogExpired(id int)
}

type nopEvents struct{}

func (nopEvents) Finished()           {}
func (nopEvents) Exception(Exception) {}
func (nopEvents) WatchdogExpired(int) {}

// ServiceConfig holds the collaborators of a Service. Nil backends
// answer every call as if the resource did not exist.
type ServiceConfig struct {
	Channel   *Channel
	Memory    Memory
	Layout    Layout
	I2C       I2C
	SPI       SPI
	Cache     Store
	Watchdogs *WatchdogSet
	Events    Events
}

// Service is the comms core's end of the service tunnel.
type Service struct {
	ch     *Channel
	mem    Memory
	layout Layout
	i2c    I2C
	spi    SPI
	cache  Store
	wd     *WatchdogSet
	events Events
}

// NewService returns a service dispatching tunnel calls to the backends in cfg.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		ch:     cfg.Channel,
		mem:    cfg.Memory,
		layout: cfg.Layout,
		i2c:    cfg.I2C,
		spi:    cfg.SPI,
		cache:  cfg.Cache,
		wd:     cfg.Watchdogs,
		events: cfg.Events,
	}
	if s.i2c == nil {
		s.i2c = noI2C{}
	}
	if s.spi == nil {
		s.spi = noSPI{}
	}
	if s.cache == nil {
		s.cache = NewCache()
	}
	if s.wd == nil {
		s.wd = NewWatchdogSet(NewSystemClock())
	}
	if s.events == nil {
		s.events = nopEvents{}
	}
	return s
}

// Watchdogs returns the watchdog set armed through the tunnel.
func (s *Service) Watchdogs() *WatchdogSet { return s.wd }

// Reset discards the state of the previous kernel run. The artifact cache is kept.
func (s *Service) Reset() {
	s.ch.Reset()
	s.wd.ClearAll()
}

// check rejects payload spans outside the kernel window before they are read.
func (s *Service) check(ptr, n uint32) error {
	if !s.layout.ValidateSpan(ptr, n) {
		return &SandboxError{Ptr: ptr, Len: n}
	}
	return nil
}

// Poll handles at most one message from the kernel core and reports whether
// there was one. Every error it returns is fatal to the kernel run.
func (s *Service) Poll() (bool, error) {
	addr, ok := s.ch.Receive()
	if !ok {
		return false, nil
	}
	if err := s.check(addr, FrameSize); err != nil {
		return true, err
	}
	req, err := readMessage(s.mem, addr, s.check)
	if err != nil {
		if !errors.Is(err, ErrFatal) {
			err = fmt.Errorf("%w: %v", ErrFatal, err)
		}
		return true, err
	}
	if req.Tag().IsReply() {
		return true, &ProtocolError{Got: req.Tag(), Reason: fmt.Sprintf("%s sent by the kernel core", req.Tag())}
	}
	reply := s.dispatch(req)
	if reply == nil {
		s.ch.Acknowledge()
		return true, nil
	}
	if err := writeMessage(s.mem, s.layout.ScratchAddress, s.layout.ScratchAddress+s.layout.ScratchSize, reply); err != nil {
		return true, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	s.ch.Send(s.layout.ScratchAddress)
	return true, nil
}

func (s *Service) dispatch(req Message) Message {
	switch m := req.(type) {
	case *I2cStartRequest:
		logBus(s.i2c.Start(m.Bus))
	case *I2cRestartRequest:
		logBus(s.i2c.Restart(m.Bus))
	case *I2cStopRequest:
		logBus(s.i2c.Stop(m.Bus))
	case *I2cWriteRequest:
		ack, err := s.i2c.Write(m.Bus, m.Data)
		return &I2cWriteReply{Succeeded: err == nil, Ack: ack}
	case *I2cReadRequest:
		data, err := s.i2c.Read(m.Bus, m.Ack)
		return &I2cReadReply{Succeeded: err == nil, Data: data}
	case *SpiSetConfigRequest:
		logBus(s.spi.SetConfig(m.Bus, m.Flags, m.WriteDiv, m.ReadDiv))
	case *SpiSetXferRequest:
		logBus(s.spi.SetXfer(m.Bus, m.ChipSelect, m.WriteLength, m.ReadLength))
	case *SpiWriteRequest:
		logBus(s.spi.Write(m.Bus, m.Data))
	case *SpiReadRequest:
		data, err := s.spi.Read(m.Bus)
		return &SpiReadReply{Succeeded: err == nil, Data: data}
	case *CacheGetRequest:
		return &CacheGetReply{Value: s.cache.Get(m.Key)}
	case *CachePutRequest:
		err := s.cache.Put(m.Key, m.Value)
		if err != nil {
			log.Printf("cache put %q: %v", m.Key, err)
		}
		return &CachePutReply{Succeeded: err == nil}
	case *WatchdogSetRequest:
		id, err := s.wd.SetMs(m.Ms)
		return &WatchdogSetReply{Succeeded: err == nil, ID: id}
	case *WatchdogClear:
		s.wd.Clear(m.ID)
	case *Log:
		log.Printf("kernel: %s", strings.TrimRight(m.Text, "\n"))
	case *RunFinished:
		s.events.Finished()
	case *RunException:
		s.events.Exception(m.Exception)
	}
	return nil
}

// One-way bus calls have no reply to carry a failure back.
func logBus(err error) {
	if err != nil {
		log.Printf("%v", err)
	}
}

// Serve polls the tunnel until ctx is done. While the kernel core runs it
// also watches for expired watchdogs. After a fatal error the kernel core is
// stopped and the error returned. idle, if not nil, is run whenever the
// mailbox is empty so that other comms work can interleave with the tunnel.
func (s *Service) Serve(ctx context.Context, k *Kernel, idle func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		handled, err := s.Poll()
		if err != nil {
			log.Printf("kernel run %s: %v", k.RunID(), err)
			k.Stop()
			return err
		}
		if k.Status() == StatusRunning {
			if id, ok := s.wd.Expired(); ok {
				log.Printf("kernel run %s: watchdog %d expired", k.RunID(), id)
				s.events.WatchdogExpired(id)
				k.Stop()
				return fmt.Errorf("watchdog %d: %w", id, ErrWatchdogExpired)
			}
		}
		if !handled {
			if idle != nil {
				idle()
			} else {
				runtime.Gosched()
			}
		}
	}
}

type noI2C struct{}

func (noI2C) Start(bus int) error                    { return busErr("i2c", bus) }
func (noI2C) Restart(bus int) error                  { return busErr("i2c", bus) }
func (noI2C) Stop(bus int) error                     { return busErr("i2c", bus) }
func (noI2C) Write(bus int, data byte) (bool, error) { return false, busErr("i2c", bus) }
func (noI2C) Read(bus int, ack bool) (byte, error)   { return 0, busErr("i2c", bus) }

type noSPI struct{}

func (noSPI) SetConfig(bus int, flags, writeDiv, readDiv uint32) error { return busErr("spi", bus) }
func (noSPI) SetXfer(bus int, cs uint16, wlen, rlen uint8) error       { return busErr("spi", bus) }
func (noSPI) Write(bus int, data uint32) error                         { return busErr("spi", bus) }
func (noSPI) Read(bus int) (uint32, error)                             { return 0, busErr("spi", bus) }

func busErr(kind string, bus int) error {
	return fmt.Errorf("%s%d: %w", kind, bus, ErrNoSuchBus)
}
