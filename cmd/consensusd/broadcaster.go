package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/CoinCulture/agnes/consensus/bft"
	"github.com/CoinCulture/agnes/p2p"
)

const (
	outboundQueueCapacity  = 4096
	outboundRetryBaseDelay = 100 * time.Millisecond
	outboundRetryMaxDelay  = 5 * time.Second
	notifyBuffer           = 1
	idleTickInterval       = time.Second
)

// wireMessage is the JSON-on-the-wire rendition of a bft.Message[V]; the
// demo network never needs anything richer since it never leaves the
// loopback p2p.Broadcaster.
type wireMessage[V any] struct {
	Kind     bft.MessageKind `json:"kind"`
	Round    int             `json:"round"`
	Value    V               `json:"value"`
	HasValue bool            `json:"has_value"`
	PolRound int             `json:"pol_round"`
	Step     bft.Step        `json:"step"`
}

func msgType(kind bft.MessageKind) byte {
	if kind == bft.MessageProposal {
		return p2p.MsgTypeProposal
	}
	return p2p.MsgTypeVote
}

// resilientBroadcaster implements engine.Broadcaster[V] over a p2p.Broadcaster,
// queueing outbound messages and retrying with backoff when the underlying
// transport briefly fails, the way cmd/consensusd's original network bridge
// never let a disconnect drop a consensus message on the floor.
type resilientBroadcaster[V comparable] struct {
	logger   *slog.Logger
	underlay p2p.Broadcaster

	mu    sync.Mutex
	queue []*p2p.Message

	notify chan struct{}
}

func newResilientBroadcaster[V comparable](ctx context.Context, logger *slog.Logger, underlay p2p.Broadcaster) *resilientBroadcaster[V] {
	rb := &resilientBroadcaster[V]{
		logger:   logger,
		underlay: underlay,
		queue:    make([]*p2p.Message, 0, outboundQueueCapacity),
		notify:   make(chan struct{}, notifyBuffer),
	}
	go rb.run(ctx)
	return rb
}

// BroadcastMessage implements engine.Broadcaster[V].
func (r *resilientBroadcaster[V]) BroadcastMessage(msg bft.Message[V]) {
	payload, err := json.Marshal(wireMessage[V]{
		Kind:     msg.Kind,
		Round:    msg.Round,
		Value:    msg.Value,
		HasValue: msg.HasValue,
		PolRound: msg.PolRound,
		Step:     msg.Step,
	})
	if err != nil {
		r.logger.Error("encode outbound consensus message", "err", err)
		return
	}

	r.mu.Lock()
	if len(r.queue) >= outboundQueueCapacity {
		r.queue = r.queue[1:]
	}
	r.queue = append(r.queue, &p2p.Message{Type: msgType(msg.Kind), Payload: payload})
	r.mu.Unlock()

	r.signal()
}

func (r *resilientBroadcaster[V]) run(ctx context.Context) {
	retryDelay := outboundRetryBaseDelay
	for {
		if ctx.Err() != nil {
			return
		}

		r.mu.Lock()
		var next *p2p.Message
		if len(r.queue) > 0 {
			next = r.queue[0]
		}
		r.mu.Unlock()

		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-r.notify:
			case <-time.After(idleTickInterval):
			}
			continue
		}

		if err := r.underlay.Broadcast(next); err != nil {
			r.logger.Warn("broadcast failed, retrying", "err", err, "retry_in", retryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			case <-r.notify:
			}
			retryDelay *= 2
			if retryDelay > outboundRetryMaxDelay {
				retryDelay = outboundRetryMaxDelay
			}
			continue
		}

		r.mu.Lock()
		if len(r.queue) > 0 {
			r.queue = r.queue[1:]
		}
		r.mu.Unlock()
		retryDelay = outboundRetryBaseDelay
	}
}

func (r *resilientBroadcaster[V]) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}
