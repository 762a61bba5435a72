package ingestion

import (
	"context"
	"fmt"
	"time"

	"StableLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// messages to the Processor. Each subject carries exactly one event type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawEvent is an undecoded message tagged with the event type of its subject.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed, or a duplicate
	NakFunc   func() // redeliver later
	TermFunc  func() // undecodable; never redeliver
}

// SubjectConfig maps a NATS subject to an event type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

const (
	StreamFunding = "STABLE_FUNDING"
	StreamPrices  = "STABLE_PRICES"
	StreamActions = "STABLE_ACTIONS"
	StreamOut     = "STABLE_OUT"
)

// DefaultSubjects returns the standard subject layout.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "stable.funding.>", EventType: "WalletFunded", ConsumerName: "ledger-funding", StreamName: StreamFunding},
		{Subject: "stable.prices.>", EventType: "PriceUpdate", ConsumerName: "ledger-prices", StreamName: StreamPrices},
		{Subject: "stable.actions.deposit.>", EventType: "DepositCollateral", ConsumerName: "ledger-deposit", StreamName: StreamActions},
		{Subject: "stable.actions.deposit_and_mint.>", EventType: "DepositCollateralAndMint", ConsumerName: "ledger-deposit-mint", StreamName: StreamActions},
		{Subject: "stable.actions.redeem.>", EventType: "RedeemCollateral", ConsumerName: "ledger-redeem", StreamName: StreamActions},
		{Subject: "stable.actions.redeem_for_stable.>", EventType: "RedeemCollateralForStable", ConsumerName: "ledger-redeem-burn", StreamName: StreamActions},
		{Subject: "stable.actions.mint.>", EventType: "MintStable", ConsumerName: "ledger-mint", StreamName: StreamActions},
		{Subject: "stable.actions.burn.>", EventType: "BurnStable", ConsumerName: "ledger-burn", StreamName: StreamActions},
		{Subject: "stable.actions.liquidate.>", EventType: "Liquidate", ConsumerName: "ledger-liquidate", StreamName: StreamActions},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       observability.NewLogger("nats-subscriber"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		eventType := cfg.EventType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: eventType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
				TermFunc:  func() { _ = msg.Term() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

func streamConfig(name string, subjects ...string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// EnsureStreams creates the inbound and outbound JetStream streams if they
// don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		streamConfig(StreamFunding, "stable.funding.>"),
		streamConfig(StreamPrices, "stable.prices.>"),
		streamConfig(StreamActions, "stable.actions.>"),
		streamConfig(StreamOut, OutboundSubjectPrefix+".>"),
	}

	log := observability.NewLogger("nats-subscriber")
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("stableledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
