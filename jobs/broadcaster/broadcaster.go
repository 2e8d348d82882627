// Package broadcaster drains the event outbox to a message broker.
package broadcaster

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"ballast/infra/outbox"

	"github.com/IBM/sarama"
)

// Publisher delivers one payload. Implementations must be safe to retry.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// Store is the part of the outbox the broadcaster drives.
type Store interface {
	ScanByState(state outbox.State, fn func(seq uint64, rec outbox.Record) error) error
	UpdateState(seq uint64, state outbox.State, retries uint32) error
	Delete(seq uint64) error
}

type Config struct {
	Interval time.Duration
	// MaxRetries moves a record to FAILED for good once reached; zero
	// retries forever.
	MaxRetries uint32
	// KeepAcked leaves ACKED records in the outbox instead of deleting them.
	KeepAcked bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 250 * time.Millisecond
	}
	return c
}

type Broadcaster struct {
	store Store
	pub   Publisher
	cfg   Config
	log   *slog.Logger
}

func New(store Store, pub Publisher, cfg Config, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		store: store,
		pub:   pub,
		cfg:   cfg.withDefaults(),
		log:   log.With("component", "broadcaster"),
	}
}

// ---- loop ----

// Run drains the outbox every interval until ctx is done, then drains once
// more so nothing flushed before shutdown is left behind.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("started", "interval", b.cfg.Interval)
	defer b.log.Info("stopped")

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := b.Drain(context.WithoutCancel(ctx)); err != nil {
				b.log.Warn("final drain", "err", err)
			}
			return
		case <-ticker.C:
			if _, err := b.Drain(ctx); err != nil {
				b.log.Warn("drain", "err", err)
			}
		}
	}
}

// Drain publishes every NEW, SENT and retryable FAILED record once. A SENT
// record found here was interrupted mid-publish and is sent again. It
// returns how many records were acknowledged.
func (b *Broadcaster) Drain(ctx context.Context) (int, error) {
	acked := 0
	tried := make(map[uint64]struct{})
	for _, state := range []outbox.State{outbox.StateSent, outbox.StateNew, outbox.StateFailed} {
		err := b.store.ScanByState(state, func(seq uint64, rec outbox.Record) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, ok := tried[seq]; ok {
				return nil
			}
			if rec.State == outbox.StateFailed && b.exhausted(rec) {
				return nil
			}
			tried[seq] = struct{}{}
			ok, err := b.deliver(ctx, seq, rec)
			if ok {
				acked++
			}
			return err
		})
		if err != nil {
			return acked, err
		}
	}
	return acked, nil
}

func (b *Broadcaster) exhausted(rec outbox.Record) bool {
	return b.cfg.MaxRetries > 0 && rec.Retries >= b.cfg.MaxRetries
}

// deliver returns a non-nil error only when the outbox itself fails.
func (b *Broadcaster) deliver(ctx context.Context, seq uint64, rec outbox.Record) (bool, error) {
	if err := b.store.UpdateState(seq, outbox.StateSent, rec.Retries); err != nil {
		return false, fmt.Errorf("mark %d sent: %w", seq, err)
	}

	key := []byte(strconv.FormatUint(seq, 10))
	if err := b.pub.Publish(ctx, key, rec.Payload); err != nil {
		retries := rec.Retries + 1
		b.log.Warn("publish failed", "seq", seq, "retries", retries, "err", err)
		if err := b.store.UpdateState(seq, outbox.StateFailed, retries); err != nil {
			return false, fmt.Errorf("mark %d failed: %w", seq, err)
		}
		return false, nil
	}

	if b.cfg.KeepAcked {
		if err := b.store.UpdateState(seq, outbox.StateAcked, rec.Retries); err != nil {
			return true, fmt.Errorf("mark %d acked: %w", seq, err)
		}
		return true, nil
	}
	if err := b.store.Delete(seq); err != nil {
		return true, fmt.Errorf("delete %d: %w", seq, err)
	}
	return true, nil
}

func (b *Broadcaster) Close() error {
	return b.pub.Close()
}

// ---- sarama ----

// SaramaPublisher publishes through a sarama SyncProducer.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaPublisher(brokers []string, topic string) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("broadcaster: sarama producer: %w", err)
	}
	return NewSaramaPublisherFrom(producer, topic), nil
}

// NewSaramaPublisherFrom wraps an existing producer.
func NewSaramaPublisherFrom(producer sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: producer, topic: topic}
}

func (p *SaramaPublisher) Publish(_ context.Context, key, value []byte) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
