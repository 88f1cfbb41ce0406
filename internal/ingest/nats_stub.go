// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

//go:build !nats

package ingest

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// NATSConfig configures the JetStream subscriber. Stub when built
// without -tags=nats.
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

// NewNATSSubscriber returns an error when built without NATS support.
// Build with -tags=nats to enable the JetStream transport.
func NewNATSSubscriber(cfg NATSConfig) (message.Subscriber, error) {
	return nil, fmt.Errorf("NATS transport not available: build with -tags=nats")
}
