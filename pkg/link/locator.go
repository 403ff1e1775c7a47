// HeartLink Core
// Copyright (c) 2025 The HeartLink Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of HeartLink Core.
//
// HeartLink Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// HeartLink Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with HeartLink Core.  If not, see <http://www.gnu.org/licenses/>.

package link

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial/enumerator"
)

// Enumerator lists the serial ports present on the system.
type Enumerator interface {
	GetDetailedPortsList() ([]*enumerator.PortDetails, error)
}

// EnumeratorFunc adapts a plain function to Enumerator.
type EnumeratorFunc func() ([]*enumerator.PortDetails, error)

func (f EnumeratorFunc) GetDetailedPortsList() ([]*enumerator.PortDetails, error) {
	return f()
}

// SystemEnumerator enumerates ports through go.bug.st/serial.
var SystemEnumerator Enumerator = EnumeratorFunc(enumerator.GetDetailedPortsList)

// Locator picks the serial device the ECG board is attached to.
type Locator struct {
	enumerator  Enumerator
	portFactory PortFactory
	fallback    string
	tokens      []string
	baudRate    int
	releaseLock bool
}

type LocatorOptions struct {
	Enumerator       Enumerator
	PortFactory      PortFactory
	FallbackPath     string
	MatchTokens      []string
	BaudRate         int
	ReleaseStaleLock bool
}

func NewLocator(opts LocatorOptions) *Locator {
	l := &Locator{
		enumerator:  opts.Enumerator,
		portFactory: opts.PortFactory,
		fallback:    opts.FallbackPath,
		baudRate:    opts.BaudRate,
		releaseLock: opts.ReleaseStaleLock,
	}
	if l.enumerator == nil {
		l.enumerator = SystemEnumerator
	}
	if l.portFactory == nil {
		l.portFactory = DefaultPortFactory
	}
	for _, t := range opts.MatchTokens {
		t = strings.TrimSpace(t)
		if t != "" {
			l.tokens = append(l.tokens, strings.ToLower(t))
		}
	}
	return l
}

// Locate returns the first enumerated port whose description matches one of
// the configured tokens, or the fallback path when nothing matches. USB ports
// also match on their VID:PID pair, e.g. 1a86:7523.
func (l *Locator) Locate() (string, error) {
	ports, err := l.enumerator.GetDetailedPortsList()
	if err != nil {
		log.Warn().Err(err).Msg("failed to enumerate serial ports, using fallback")
		ports = nil
	}

	for _, p := range ports {
		if p == nil {
			continue
		}
		log.Debug().
			Str("port", p.Name).
			Str("product", p.Product).
			Bool("usb", p.IsUSB).
			Str("vid", p.VID).
			Str("pid", p.PID).
			Msg("found serial port")
	}

	for _, p := range ports {
		if p == nil || !l.matches(p) {
			continue
		}
		log.Info().Str("port", p.Name).Str("product", p.Product).Msg("matched serial device")
		if l.releaseLock {
			l.releaseStaleLock(p.Name)
		}
		return p.Name, nil
	}

	if l.fallback == "" {
		return "", fmt.Errorf("%w: no port matched %v", ErrDeviceNotFound, l.tokens)
	}

	log.Debug().Str("port", l.fallback).Msg("no serial device matched, using fallback")
	return l.fallback, nil
}

func (l *Locator) matches(p *enumerator.PortDetails) bool {
	desc := p.Product + " " + p.Name
	if p.IsUSB && p.VID != "" {
		desc += " " + p.VID + ":" + p.PID
	}
	desc = strings.ToLower(desc)
	for _, t := range l.tokens {
		if strings.Contains(desc, t) {
			return true
		}
	}
	return false
}

// releaseStaleLock opens and immediately closes the port so the OS drops an
// exclusive lock left by a crashed process. Failure only gets logged, the
// real open that follows decides whether the port is usable.
func (l *Locator) releaseStaleLock(path string) {
	port, err := l.portFactory(path, Mode8N1(l.baudRate))
	if err != nil {
		log.Warn().Err(err).Str("port", path).Msg("could not release serial port")
		return
	}
	if err := port.Close(); err != nil {
		log.Warn().Err(err).Str("port", path).Msg("failed to close serial port after release")
	}
}
