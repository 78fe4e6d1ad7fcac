package network

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PlatformNetwork/subnet-validator/message"
)

// Topic names, matching the wire-level constants (spec.md §4.E, §6).
const (
	TopicConsensus = message.TopicConsensus
	TopicChallenge = message.TopicChallenge
)

// Handler processes one validated inbound message for a topic. May block
// (WASM execution, disk I/O); the Node offloads these calls to a worker
// pool rather than running them on the shared event loop.
type Handler func(ctx context.Context, peerID string, msg *message.SignedMessage) error

// Transport is the minimal pub/sub substrate a Node drives. A concrete
// implementation wraps the process's actual peer-discovery and
// publish/subscribe backend; tests use an in-memory fake.
type Transport interface {
	Publish(topic string, frame []byte) error
	Subscribe(topic string) (<-chan InboundFrame, error)
}

// InboundFrame is one raw frame arriving on a topic from a peer.
type InboundFrame struct {
	PeerID string
	Topic  string
	Frame  []byte
}

// Node runs one reader loop per topic; each inbound frame is driven
// through the Pipeline and dispatched to that topic's Handler on a bounded
// pool of worker goroutines, mirroring the
// teacher's per-chain router mailbox split adapted to a two-topic model.
type Node struct {
	transport Transport
	pipeline  *Pipeline
	handlers  map[string]Handler
	workers   int
	logger    *zap.Logger

	mu sync.RWMutex
}

// NewNode constructs a Node. workers bounds the concurrent handler
// goroutines per topic; 0 defaults to 8.
func NewNode(transport Transport, pipeline *Pipeline, workers int, logger *zap.Logger) *Node {
	if workers <= 0 {
		workers = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		transport: transport,
		pipeline:  pipeline,
		handlers:  make(map[string]Handler),
		workers:   workers,
		logger:    logger,
	}
}

// RegisterHandler binds a Handler to a topic.
func (n *Node) RegisterHandler(topic string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[topic] = h
}

// Publish signs and broadcasts nothing itself — callers encode via
// message.Encode and hand the frame to Publish directly, keeping signing
// concerns in the message package.
func (n *Node) Publish(topic string, frame []byte) error {
	return n.transport.Publish(topic, frame)
}

// Run drives both topics until ctx is canceled. Each topic gets its own
// bounded worker pool so a slow handler on one topic cannot starve the
// other.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, topic := range []string{TopicConsensus, TopicChallenge} {
		topic := topic
		inbound, err := n.transport.Subscribe(topic)
		if err != nil {
			return fmt.Errorf("network: subscribe %s: %w", topic, err)
		}
		g.Go(func() error { return n.runTopic(ctx, topic, inbound) })
	}

	return g.Wait()
}

func (n *Node) runTopic(ctx context.Context, topic string, inbound <-chan InboundFrame) error {
	sem := make(chan struct{}, n.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-inbound:
			if !ok {
				return nil
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(f InboundFrame) {
				defer wg.Done()
				defer func() { <-sem }()
				n.handleFrame(ctx, f)
			}(frame)
		}
	}
}

func (n *Node) handleFrame(ctx context.Context, f InboundFrame) {
	msg, err := n.pipeline.Accept(f.PeerID, f.Frame)
	if err != nil {
		n.logger.Debug("rejected inbound message", zap.String("peer", f.PeerID), zap.String("topic", f.Topic), zap.Error(err))
		return
	}

	n.mu.RLock()
	handler, ok := n.handlers[f.Topic]
	n.mu.RUnlock()
	if !ok {
		n.logger.Warn("no handler registered for topic", zap.String("topic", f.Topic))
		return
	}

	if err := handler(ctx, f.PeerID, msg); err != nil {
		n.logger.Error("handler error", zap.String("topic", f.Topic), zap.Error(err))
	}
}
