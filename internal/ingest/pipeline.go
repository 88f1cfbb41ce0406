// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

// Package ingest moves vote and rumor events from the transport into
// the detection engine. The default transport is an in-process Watermill
// channel fed by the HTTP API; deployments behind a broker switch to the
// JetStream subscriber instead.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/campusverify/sentinel/internal/detection"
	"github.com/campusverify/sentinel/internal/logging"
)

// Topics carried by the transport.
const (
	TopicVotes  = "campusverify.votes"
	TopicRumors = "campusverify.rumors"
)

// VoteMessage is the wire form of a verification vote.
type VoteMessage struct {
	EventID   string    `json:"event_id" validate:"required"`
	RumorID   string    `json:"rumor_id" validate:"required"`
	UserID    string    `json:"user_id" validate:"required"`
	VoteType  string    `json:"vote_type" validate:"required,oneof=support dispute"`
	Stake     float64   `json:"stake" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// RumorMessage is the wire form of a rumor creation.
type RumorMessage struct {
	RumorID     string    `json:"rumor_id" validate:"required"`
	CreatorID   string    `json:"creator_id" validate:"required"`
	CreatedAt   time.Time `json:"created_at" validate:"required"`
	Category    string    `json:"category"`
	StakeAmount float64   `json:"stake_amount" validate:"gte=0"`
}

// Config tunes the pipeline.
type Config struct {
	// Buffer is the in-process channel capacity.
	Buffer int

	// VoteTopic and RumorTopic override the transport subjects. Brokered
	// deployments name the JetStream subjects here.
	VoteTopic  string
	RumorTopic string

	// RetryMaxRetries bounds handler retries for transient failures.
	RetryMaxRetries int

	// RetryInitialInterval is the first retry delay.
	RetryInitialInterval time.Duration

	// CloseTimeout is how long to wait for in-flight handlers on close.
	CloseTimeout time.Duration
}

// DefaultConfig returns shipped defaults.
func DefaultConfig() Config {
	return Config{
		Buffer:               1024,
		VoteTopic:            TopicVotes,
		RumorTopic:           TopicRumors,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		CloseTimeout:         30 * time.Second,
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Buffer <= 0 {
		c.Buffer = def.Buffer
	}
	if c.VoteTopic == "" {
		c.VoteTopic = def.VoteTopic
	}
	if c.RumorTopic == "" {
		c.RumorTopic = def.RumorTopic
	}
	if c.RetryMaxRetries <= 0 {
		c.RetryMaxRetries = def.RetryMaxRetries
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = def.RetryInitialInterval
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	return c
}

// Pipeline wires a Watermill router between a transport and the engine.
type Pipeline struct {
	router     *message.Router
	publisher  message.Publisher
	engine     *detection.Engine
	validate   *validator.Validate
	voteTopic  string
	rumorTopic string
}

// NewPipeline builds the in-process pipeline. The returned pipeline is
// also the publisher the HTTP API hands events to.
func NewPipeline(cfg Config, engine *detection.Engine) (*Pipeline, error) {
	cfg = cfg.withDefaults()

	logger := newWatermillLogger()
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(cfg.Buffer),
	}, logger)

	p := &Pipeline{
		publisher:  pubsub,
		engine:     engine,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		voteTopic:  cfg.VoteTopic,
		rumorTopic: cfg.RumorTopic,
	}
	router, err := p.buildRouter(cfg, pubsub, logger)
	if err != nil {
		return nil, err
	}
	p.router = router
	return p, nil
}

// NewPipelineWithSubscriber builds a pipeline over an external
// subscriber, e.g. JetStream. Publishing through the pipeline is not
// available; events arrive from the broker.
func NewPipelineWithSubscriber(cfg Config, engine *detection.Engine, subscriber message.Subscriber) (*Pipeline, error) {
	cfg = cfg.withDefaults()

	p := &Pipeline{
		engine:     engine,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		voteTopic:  cfg.VoteTopic,
		rumorTopic: cfg.RumorTopic,
	}
	router, err := p.buildRouter(cfg, subscriber, newWatermillLogger())
	if err != nil {
		return nil, err
	}
	p.router = router
	return p, nil
}

func (p *Pipeline) buildRouter(cfg Config, subscriber message.Subscriber, logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	router.AddNoPublisherHandler("vote-events", p.voteTopic, subscriber, p.handleVote)
	router.AddNoPublisherHandler("rumor-events", p.rumorTopic, subscriber, p.handleRumor)
	return router, nil
}

// PublishVote validates and publishes a vote onto the transport.
func (p *Pipeline) PublishVote(vote *VoteMessage) error {
	if p.publisher == nil {
		return fmt.Errorf("pipeline has no publisher, events arrive via the broker")
	}
	if err := p.validate.Struct(vote); err != nil {
		return fmt.Errorf("%w: %v", detection.ErrInvalidEvent, err)
	}
	payload, err := json.Marshal(vote)
	if err != nil {
		return fmt.Errorf("marshal vote: %w", err)
	}
	return p.publisher.Publish(p.voteTopic, message.NewMessage(uuid.New().String(), payload))
}

// PublishRumor validates and publishes a rumor creation.
func (p *Pipeline) PublishRumor(r *RumorMessage) error {
	if p.publisher == nil {
		return fmt.Errorf("pipeline has no publisher, events arrive via the broker")
	}
	if err := p.validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", detection.ErrInvalidEvent, err)
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rumor: %w", err)
	}
	return p.publisher.Publish(p.rumorTopic, message.NewMessage(uuid.New().String(), payload))
}

// handleVote decodes, validates, and feeds one vote to the engine.
// Malformed or rejected events are acked; redelivery cannot fix them.
func (p *Pipeline) handleVote(msg *message.Message) error {
	var wire VoteMessage
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable vote message")
		return nil
	}
	if err := p.validate.Struct(&wire); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping invalid vote message")
		return nil
	}

	event := &detection.VoteEvent{
		EventID:   wire.EventID,
		RumorID:   wire.RumorID,
		UserID:    wire.UserID,
		VoteType:  detection.VoteType(wire.VoteType),
		Stake:     wire.Stake,
		Timestamp: wire.Timestamp,
	}
	_, err := p.engine.OnVoteEvent(msg.Context(), event)
	if err != nil {
		if errors.Is(err, detection.ErrInvalidEvent) || errors.Is(err, detection.ErrOutOfOrder) {
			logging.Warn().
				Err(err).
				Str("event_id", wire.EventID).
				Msg("Engine rejected vote event")
			return nil
		}
		return err
	}
	return nil
}

// handleRumor registers rumor metadata with the engine.
func (p *Pipeline) handleRumor(msg *message.Message) error {
	var wire RumorMessage
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable rumor message")
		return nil
	}
	if err := p.validate.Struct(&wire); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping invalid rumor message")
		return nil
	}

	return p.engine.OnRumorCreated(&detection.RumorRecord{
		RumorID:     wire.RumorID,
		CreatorID:   wire.CreatorID,
		CreatedAt:   wire.CreatedAt,
		Category:    wire.Category,
		StakeAmount: wire.StakeAmount,
	})
}

// Serve runs the router until the context is canceled. It satisfies
// suture.Service.
func (p *Pipeline) Serve(ctx context.Context) error {
	return p.router.Run(ctx)
}

// String identifies the service in the supervision tree.
func (p *Pipeline) String() string {
	return "ingest-pipeline"
}

// Running returns a channel closed once the router is running. Tests
// use it to avoid publishing before the handlers subscribe.
func (p *Pipeline) Running() <-chan struct{} {
	return p.router.Running()
}

// Close shuts the router down.
func (p *Pipeline) Close() error {
	return p.router.Close()
}
