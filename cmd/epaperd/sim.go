// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/GermanBionicSystems/epaper/spectra6"
)

// simPort is an SPI port discarding everything written to it.
type simPort struct {
	conn simConn
}

func (p *simPort) String() string { return "sim" }
func (p *simPort) Close() error { return nil }
func (p *simPort) LimitSpeed(f physic.Frequency) error { return nil }
func (p *simPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	return &p.conn, nil
}

type simConn struct{}

func (c *simConn) String() string { return "sim" }
func (c *simConn) Duplex() conn.Duplex { return conn.Half }
func (c *simConn) TxPackets(p []spi.Packet) error {
	return errors.New("sim: TxPackets is not supported")
}

func (c *simConn) Tx(w, r []byte) error {
	return nil
}

// idlePin is a busy line that never reports busy.
type idlePin struct {
	gpiotest.Pin
	idle gpio.Level
}

func (p *idlePin) Read() gpio.Level {
	return p.idle
}

func newSimPanel(opts *spectra6.Opts) (*spectra6.Dev, func() error, error) {
	p := &simPort{}
	dev, err := spectra6.New(p,
		&gpiotest.Pin{N: "sim_dc"},
		&gpiotest.Pin{N: "sim_cs"},
		&gpiotest.Pin{N: "sim_rst"},
		&idlePin{Pin: gpiotest.Pin{N: "sim_busy"}, idle: !opts.BusyLevel},
		opts)
	if err != nil {
		return nil, nil, err
	}
	return dev, p.Close, nil
}

var _ spi.PortCloser = &simPort{}
