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
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/heartlink/heartlink-core/pkg/service/broker"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const kafkaWriteTimeout = 5 * time.Second

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each reading to a topic keyed by device id, so all
// readings of one device land on one partition in order.
type KafkaPublisher struct {
	writer   messageWriter
	onErr    ErrorHook
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	done     chan struct{}
	topic    string
	deviceID string
	brokers  []string
	stopOnce sync.Once
}

func NewKafkaPublisher(brokers []string, topic, deviceID string, onErr ErrorHook) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: kafkaWriteTimeout,
		},
		brokers:  brokers,
		topic:    topic,
		deviceID: deviceID,
		onErr:    onErr,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *KafkaPublisher) Name() string {
	return "kafka:" + strings.Join(p.brokers, ",")
}

func (p *KafkaPublisher) Start(ctx context.Context, sub *broker.Subscription) error {
	if p.writer == nil {
		return errors.New("kafka publisher has no writer")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	log.Info().Strs("brokers", p.brokers).Str("topic", p.topic).Msg("kafka publisher started")

	go func() {
		defer close(p.done)
		consume(p.Name(), sub, p.stopCh, p.publish, p.onErr)
	}()
	return nil
}

func (p *KafkaPublisher) publish(ev broker.Event) error {
	payload, err := encodePayload(p.deviceID, ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(p.ctx, kafkaWriteTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(p.deviceID),
		Value: payload,
		Time:  ev.Reading.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
		if err := p.writer.Close(); err != nil {
			log.Warn().Err(err).Str("topic", p.topic).Msg("failed to close kafka writer")
		}
	})
}
