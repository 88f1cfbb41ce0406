// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package websocket

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()

	client := NewClient(hub, nil)
	hub.Register <- client

	waitForCount(t, hub, 1)

	hub.Unregister <- client
	waitForCount(t, hub, 0)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
}

func TestHub_BroadcastDelivers(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Serve(ctx) }()

	client := NewClient(hub, nil)
	hub.Register <- client
	waitForCount(t, hub, 1)

	hub.BroadcastJSON(MessageTypeAssessment, map[string]string{"user_id": "u1"})

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeAssessment {
			t.Errorf("type = %q, want %q", msg.Type, MessageTypeAssessment)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Serve(ctx) }()

	client := NewClient(hub, nil)
	hub.Register <- client
	waitForCount(t, hub, 1)

	// Fill the client's send buffer and one more.
	for i := 0; i < cap(client.send)+1; i++ {
		hub.BroadcastJSON(MessageTypeAssessment, i)
	}
	waitForCount(t, hub, 0)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()

	client := NewClient(hub, nil)
	hub.Register <- client
	waitForCount(t, hub, 1)

	cancel()
	<-done

	// Drain any delivered messages; the channel must end up closed.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-client.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("client send channel not closed on shutdown")
		}
	}
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
}
