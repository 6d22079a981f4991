package ingestion

import (
	"context"
	"fmt"
	"time"

	"KasaLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// events into the shell via eventChan. JetStream is the primary
// high-throughput ingestion surface; each subject maps to one event type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
}

// RawEvent is the parsed-but-untyped event from NATS, ready for the
// shell to validate and convert into a typed event.Event before sending
// to the core.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK the NATS message after successful processing
	NakFunc   func() // NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to event types. Each event type has
// its own subject so producers can scale independently.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "kasa.prices.>", EventType: "PriceUpdate", ConsumerName: "kasa-prices", StreamName: "KASA_PRICES"},
		{Subject: "kasa.ops.open.>", EventType: "OpenPosition", ConsumerName: "kasa-open", StreamName: "KASA_OPS"},
		{Subject: "kasa.ops.add_collateral.>", EventType: "AddCollateral", ConsumerName: "kasa-add-coll", StreamName: "KASA_OPS"},
		{Subject: "kasa.ops.withdraw_collateral.>", EventType: "WithdrawCollateral", ConsumerName: "kasa-wd-coll", StreamName: "KASA_OPS"},
		{Subject: "kasa.ops.mint.>", EventType: "MintDebt", ConsumerName: "kasa-mint", StreamName: "KASA_OPS"},
		{Subject: "kasa.ops.repay.>", EventType: "RepayDebt", ConsumerName: "kasa-repay", StreamName: "KASA_OPS"},
		{Subject: "kasa.ops.close.>", EventType: "ClosePosition", ConsumerName: "kasa-close", StreamName: "KASA_OPS"},
		{Subject: "kasa.ops.claim_surplus.>", EventType: "ClaimSurplus", ConsumerName: "kasa-claim-surplus", StreamName: "KASA_OPS"},
		{Subject: "kasa.liquidations.>", EventType: "LiquidationRequest", ConsumerName: "kasa-liquidations", StreamName: "KASA_LIQUIDATIONS"},
		{Subject: "kasa.redemptions.>", EventType: "RedemptionRequest", ConsumerName: "kasa-redemptions", StreamName: "KASA_REDEMPTIONS"},
		{Subject: "kasa.pool.deposit.>", EventType: "PoolDeposit", ConsumerName: "kasa-pool-deposit", StreamName: "KASA_POOL"},
		{Subject: "kasa.pool.withdraw.>", EventType: "PoolWithdraw", ConsumerName: "kasa-pool-withdraw", StreamName: "KASA_POOL"},
		{Subject: "kasa.pool.claim.>", EventType: "ClaimPoolCollateral", ConsumerName: "kasa-pool-claim", StreamName: "KASA_POOL"},
		{Subject: "kasa.risk.params.>", EventType: "RiskParamUpdate", ConsumerName: "kasa-risk-params", StreamName: "KASA_RISK"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	logger := observability.NewLogger("ingestion")

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

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
				// Queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	logger := observability.NewLogger("ingestion")

	streams := []jetstream.StreamConfig{
		{
			Name:      "KASA_PRICES",
			Subjects:  []string{"kasa.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "KASA_OPS",
			Subjects:  []string{"kasa.ops.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "KASA_LIQUIDATIONS",
			Subjects:  []string{"kasa.liquidations.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "KASA_REDEMPTIONS",
			Subjects:  []string{"kasa.redemptions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "KASA_POOL",
			Subjects:  []string{"kasa.pool.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "KASA_RISK",
			Subjects:  []string{"kasa.risk.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	logger := observability.NewLogger("ingestion")
	logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("ingestion")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
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
