// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

//go:build nats

package ingest

import (
	"fmt"
	"time"

	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/campusverify/sentinel/internal/logging"
)

// NATSConfig configures the JetStream subscriber.
type NATSConfig struct {
	URL              string
	QueueGroup       string
	DurableName      string
	ConnectWait      time.Duration
	AckWait          time.Duration
	MaxDeliver       int
	SubscribersCount int
	CloseTimeout     time.Duration
}

// NewNATSSubscriber creates a durable JetStream subscriber for the vote
// and rumor topics. Queue-group delivery balances load across replicas.
func NewNATSSubscriber(cfg NATSConfig) (message.Subscriber, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url required")
	}
	if cfg.DurableName == "" {
		cfg.DurableName = "sentinel"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.SubscribersCount <= 0 {
		cfg.SubscribersCount = 4
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 30 * time.Second
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.Timeout(cfg.ConnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Error().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.AckWait(cfg.AckWait),
		natsgo.DeliverNew(),
	}

	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    true,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}, newWatermillLogger())
	if err != nil {
		return nil, fmt.Errorf("create jetstream subscriber: %w", err)
	}
	return sub, nil
}
