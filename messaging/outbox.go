package messaging

import (
	"context"
	"log"
	"slices"
	"time"

	"github.com/ichao15/slwl/protocol"
	"github.com/ichao15/slwl/store"
)

const (
	outboxBatch      = 50
	outboxMaxRetries = 10
	outboxRetention  = 24 * time.Hour
	outboxPurgeEvery = time.Hour
)

// uncappedTypes feed the corridor queue through the inbound topic. Giving
// up on one would strand its order, so they are retried until sent.
var uncappedTypes = []string{protocol.TypeOrderNeedsScheduling}

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	db        *store.DB
	client    Publisher
	interval  time.Duration
	lastPurge time.Time
	stopChan  chan struct{}
	done      chan struct{}
}

func NewOutboxDrainer(db *store.DB, client Publisher, interval time.Duration) *OutboxDrainer {
	return &OutboxDrainer{
		db:       db,
		client:   client,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (d *OutboxDrainer) Start() {
	go d.run()
}

// Stop halts the drainer after its current pass.
func (d *OutboxDrainer) Stop() {
	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}
	<-d.done
}

func (d *OutboxDrainer) run() {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.Drain(context.Background())
		}
	}
}

// Drain publishes one batch of pending messages and reports how many were
// sent. Failed messages stay pending until they exhaust their retries.
func (d *OutboxDrainer) Drain(ctx context.Context) int {
	msgs, err := d.db.ListPendingOutbox(ctx, outboxBatch, outboxMaxRetries, uncappedTypes...)
	if err != nil {
		log.Printf("outbox: list pending: %v", err)
		return 0
	}
	sent := 0
	for _, msg := range msgs {
		if err := d.client.Publish(msg.Topic, msg.Payload); err != nil {
			log.Printf("outbox: publish %s (id=%d) to %s failed: %v", msg.MsgType, msg.ID, msg.Topic, err)
			if err := d.db.IncrementOutboxRetries(ctx, msg.ID); err != nil {
				log.Printf("outbox: increment retries %d: %v", msg.ID, err)
			}
			if msg.Retries+1 == outboxMaxRetries && !slices.Contains(uncappedTypes, msg.MsgType) {
				log.Printf("outbox: giving up on %s (id=%d) after %d attempts", msg.MsgType, msg.ID, outboxMaxRetries)
			}
			continue
		}
		if err := d.db.AckOutbox(ctx, msg.ID); err != nil {
			log.Printf("outbox: ack %d: %v", msg.ID, err)
			continue
		}
		sent++
	}

	if time.Since(d.lastPurge) >= outboxPurgeEvery {
		d.lastPurge = time.Now()
		if n, err := d.db.PurgeSentOutbox(ctx, time.Now().Add(-outboxRetention)); err != nil {
			log.Printf("outbox: purge: %v", err)
		} else if n > 0 {
			log.Printf("outbox: purged %d sent message(s)", n)
		}
	}
	return sent
}
