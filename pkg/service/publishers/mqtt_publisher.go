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

package publishers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/heartlink/heartlink-core/pkg/service/broker"
	"github.com/rs/zerolog/log"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttDisconnectMs   = 250
)

// mqttClient is the part of mqtt.Client the publisher drives.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

func newPahoClient(opts *mqtt.ClientOptions) mqttClient {
	return mqtt.NewClient(opts)
}

// MQTTPublisher publishes each reading as JSON to one topic.
type MQTTPublisher struct {
	client    mqttClient
	newClient func(*mqtt.ClientOptions) mqttClient
	onErr     ErrorHook
	stopCh    chan struct{}
	done      chan struct{}
	broker    string
	topic     string
	deviceID  string
	stopOnce  sync.Once
}

func NewMQTTPublisher(brokerAddr, topic, deviceID string, onErr ErrorHook) *MQTTPublisher {
	return &MQTTPublisher{
		broker:    brokerAddr,
		topic:     topic,
		deviceID:  deviceID,
		onErr:     onErr,
		newClient: newPahoClient,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (p *MQTTPublisher) Name() string {
	return "mqtt:" + p.broker
}

func (p *MQTTPublisher) brokerURL() string {
	if strings.Contains(p.broker, "://") {
		return p.broker
	}
	return "tcp://" + p.broker
}

// Start connects to the broker and begins forwarding sub.
func (p *MQTTPublisher) Start(_ context.Context, sub *broker.Subscription) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.brokerURL())
	opts.SetClientID("heartlink-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Str("broker", p.broker).Msg("mqtt publisher connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", p.broker).Msg("mqtt publisher connection lost")
	}

	client := p.newClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		log.Warn().Str("broker", p.broker).Msg("mqtt broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", p.broker, err)
	}
	p.client = client

	log.Info().Str("broker", p.broker).Str("topic", p.topic).Msg("mqtt publisher started")

	go func() {
		defer close(p.done)
		consume(p.Name(), sub, p.stopCh, p.publish, p.onErr)
	}()
	return nil
}

func (p *MQTTPublisher) publish(ev broker.Event) error {
	payload, err := encodePayload(p.deviceID, ev)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", p.topic, err)
	}
	return nil
}

// Stop ends the forwarding loop and disconnects. Safe to call more than
// once, and before Start.
func (p *MQTTPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.client == nil {
			return
		}
		<-p.done
		if p.client.IsConnected() {
			log.Debug().Str("broker", p.broker).Msg("mqtt publisher disconnecting")
			p.client.Disconnect(mqttDisconnectMs)
		}
	})
}
