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

// Package discovery advertises the relay on the local network over mDNS so
// dashboards can find it without a configured address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/heartlink/heartlink-core/pkg/config"
	"github.com/heartlink/heartlink-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_heartlink._tcp"
	domain      = "local."

	retryInterval    = 30 * time.Second
	maxRetryDuration = 5 * time.Minute
)

var virtualInterfacePrefixes = []string{
	"docker", "br-", "veth", "virbr", "lxc", "lxd",
	"cni", "flannel", "cali", "tunl", "wg",
}

// Registrar publishes a service record and returns a handle to withdraw it.
type Registrar func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Advert, error)

// Advert is a live mDNS registration.
type Advert interface {
	Shutdown()
}

// ZeroconfRegistrar registers through grandcat/zeroconf.
func ZeroconfRegistrar(
	instance, service, domain string,
	port int,
	txt []string,
	ifaces []net.Interface,
) (Advert, error) {
	server, err := zeroconf.Register(instance, service, domain, port, txt, ifaces)
	if err != nil {
		return nil, fmt.Errorf("zeroconf register: %w", err)
	}
	return server, nil
}

func filterInterfaces(ifaces []net.Interface) []net.Interface {
	var preferred []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 || isVirtualInterface(iface.Name) {
			continue
		}
		preferred = append(preferred, iface)
	}
	return preferred
}

func isVirtualInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

type Service struct {
	clock        clockwork.Clock
	advert       Advert
	register     Registrar
	interfaces   func() ([]net.Interface, error)
	cfg          *config.Instance
	cancel       context.CancelFunc
	done         chan struct{}
	instanceName string
	port         int
	stopped      bool
	mu           syncutil.Mutex
}

type Option func(*Service)

func WithRegistrar(r Registrar) Option {
	return func(s *Service) {
		s.register = r
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

func WithInterfaces(fn func() ([]net.Interface, error)) Option {
	return func(s *Service) {
		s.interfaces = fn
	}
}

// New advertises port, the port the API actually listens on.
func New(cfg *config.Instance, port int, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		port:       port,
		clock:      clockwork.NewRealClock(),
		register:   ZeroconfRegistrar,
		interfaces: net.Interfaces,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start registers the service. When the network is not ready yet it keeps
// retrying in the background for a while and still returns nil.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.DiscoveryEnabled() {
		log.Info().Msg("mDNS discovery disabled by configuration")
		return nil
	}

	s.instanceName = s.resolveInstanceName()

	if s.tryRegister() {
		return nil
	}

	log.Info().
		Dur("retry_interval", retryInterval).
		Dur("max_duration", maxRetryDuration).
		Msg("mDNS registration failed, retrying in background")

	retryCtx, cancel := context.WithTimeout(ctx, maxRetryDuration)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.retryLoop(retryCtx)
	}()
	return nil
}

func (s *Service) txtRecords() []string {
	return []string{
		"id=" + s.cfg.DeviceID(),
		"version=" + config.AppVersion,
	}
}

func (s *Service) tryRegister() bool {
	all, err := s.interfaces()
	if err != nil {
		log.Debug().Err(err).Msg("failed to list network interfaces")
		return false
	}
	ifaces := filterInterfaces(all)
	if len(ifaces) == 0 {
		log.Debug().Msg("no suitable network interfaces for mDNS")
		return false
	}

	names := make([]string, len(ifaces))
	for i, iface := range ifaces {
		names[i] = iface.Name
	}

	advert, err := s.register(s.instanceName, ServiceType, domain, s.port, s.txtRecords(), ifaces)
	if err != nil {
		log.Debug().Err(err).Msg("mDNS registration attempt failed")
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		advert.Shutdown()
		return false
	}
	s.advert = advert
	s.mu.Unlock()

	log.Info().
		Str("instance", s.instanceName).
		Int("port", s.port).
		Str("type", ServiceType).
		Strs("interfaces", names).
		Msg("mDNS service advertising started")
	return true
}

func (s *Service) retryLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if s.tryRegister() {
				log.Info().Msg("mDNS registration succeeded after retry")
				return
			}
		case <-ctx.Done():
			log.Warn().Msg("mDNS registration retry ended, discovery not available")
			return
		}
	}
}

// Stop withdraws the advert and ends any retry loop.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	done := s.done
	advert := s.advert
	s.cancel = nil
	s.advert = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if advert != nil {
		log.Debug().Msg("stopping mDNS service advertising")
		advert.Shutdown()
	}
}

func (s *Service) InstanceName() string {
	return s.instanceName
}

// resolveInstanceName prefers the configured name, then the hostname.
func (s *Service) resolveInstanceName() string {
	if name := s.cfg.DiscoveryInstanceName(); name != "" {
		return name
	}
	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return "HeartLink on " + hostname
	}
	log.Warn().Err(err).Msg("failed to get hostname, using fallback")
	if id := s.cfg.DeviceID(); len(id) >= 8 {
		return "heartlink-" + id[:8]
	}
	return "heartlink"
}
