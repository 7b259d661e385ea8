package messenger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/opacey/elements-federation/internal/federation"
)

// Messenger is the transport the coordinator depends on. It is satisfied
// by PubSubMessenger; tests substitute an in-memory fake.
type Messenger interface {
	ProduceBlock(height int64, blockHex string) error
	ProduceSig(height int64, sig string) error
	ConsumeBlock(height int64) (string, bool)
	ConsumeSigs(height int64) []string
	Reconnect()
	Close() error
}

// PubSubMessenger is the production Messenger: one producer socket this
// node publishes on, and one consumer per peer, ported from
// zmqmessenger.py's ZmqMessenger.
type PubSubMessenger struct {
	selfIndex int
	peers     []federation.PeerEndpoint

	producer *producer

	mu        sync.Mutex
	consumers []*consumer
	blocks    []BlockMessage
	sigs      []SigMessage

	logger *log.Logger
}

// New binds a producer socket on peers[selfIndex] and opens a consumer
// for every other peer, exactly as ZmqMessenger.__init__ does.
func New(peers []federation.PeerEndpoint, selfIndex int) (*PubSubMessenger, error) {
	if selfIndex < 0 || selfIndex >= len(peers) {
		return nil, fmt.Errorf("messenger: self index %d out of range for %d peers", selfIndex, len(peers))
	}

	m := &PubSubMessenger{
		selfIndex: selfIndex,
		peers:     peers,
		logger:    log.New(os.Stdout, "MESSENGER: ", log.Ldate|log.Ltime|log.Lshortfile),
	}

	prod, err := newProducer(peers[selfIndex].String())
	if err != nil {
		return nil, err
	}
	m.producer = prod
	m.dialPeers()
	return m, nil
}

// dialPeers opens one consumer per non-self peer. Holds no lock on entry;
// callers (New, Reconnect) are responsible for synchronization.
func (m *PubSubMessenger) dialPeers() {
	consumers := make([]*consumer, 0, len(m.peers)-1)
	for i, peer := range m.peers {
		if i == m.selfIndex {
			m.logger.Printf("skipping self: node %d at %s", i, peer)
			continue
		}
		consumers = append(consumers, newConsumer(i, peer.String(), m.onFrame))
	}
	m.mu.Lock()
	m.consumers = consumers
	m.mu.Unlock()
}

func (m *PubSubMessenger) onFrame(frame string) {
	topic, raw, err := Demogrify(frame)
	if err != nil {
		m.logger.Printf("discarding malformed frame: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch topic {
	case TopicNewBlock:
		var msg BlockMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			m.logger.Printf("discarding malformed block message: %v", err)
			return
		}
		m.blocks = append(m.blocks, msg)
	case TopicNewSig:
		var msg SigMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			m.logger.Printf("discarding malformed sig message: %v", err)
			return
		}
		m.sigs = append(m.sigs, msg)
	default:
		m.logger.Printf("discarding frame on %v: %s", ErrUnknownTopic, topic)
	}
}

// ProduceBlock publishes a candidate block for height+1, matching
// ZmqMessenger.produce_block.
func (m *PubSubMessenger) ProduceBlock(height int64, blockHex string) error {
	frame, err := Mogrify(TopicNewBlock, BlockMessage{Height: height + 1, Block: blockHex})
	if err != nil {
		return err
	}
	m.producer.broadcast(frame)
	return nil
}

// ProduceSig publishes a partial signature for height+1, matching
// ZmqMessenger.produce_sig.
func (m *PubSubMessenger) ProduceSig(height int64, sig string) error {
	frame, err := Mogrify(TopicNewSig, SigMessage{Height: height + 1, Sig: sig})
	if err != nil {
		return err
	}
	m.producer.broadcast(frame)
	return nil
}

// ConsumeBlock drains every buffered candidate block and returns the first
// one proposed for height+1, matching ZmqMessenger's consume_block (it
// compares against height+1: callers pass the current tip height, not the
// height being proposed). Every other drained candidate, at that height or
// any other, is discarded.
func (m *PubSubMessenger) ConsumeBlock(height int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.blocks
	m.blocks = nil
	for _, msg := range pending {
		if msg.Height == height+1 {
			return msg.Block, true
		}
	}
	return "", false
}

// ConsumeSigs drains and returns every buffered partial signature for
// height+1, matching ZmqMessenger.consume_sigs.
func (m *PubSubMessenger) ConsumeSigs(height int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []string
	remaining := m.sigs[:0]
	for _, msg := range m.sigs {
		if msg.Height == height+1 {
			matched = append(matched, msg.Sig)
		} else {
			remaining = append(remaining, msg)
		}
	}
	m.sigs = remaining
	return matched
}

// Reconnect drops and recreates every consumer, logging reachability per
// peer, matching ZmqMessenger.reconnect().
func (m *PubSubMessenger) Reconnect() {
	m.logger.Println("Reconnecting consumers...")

	m.mu.Lock()
	old := m.consumers
	m.consumers = nil
	m.mu.Unlock()
	for _, c := range old {
		c.close()
	}

	m.dialPeers()
	for i, peer := range m.peers {
		if i == m.selfIndex {
			continue
		}
		if err := probe(peer.String()); err != nil {
			m.logger.Printf("    Re-registering node %d at %s = Failed: %v", i, peer, err)
		} else {
			m.logger.Printf("    Re-registering node %d at %s = Succeeded", i, peer)
		}
	}
}

// Close shuts down the producer and every consumer.
func (m *PubSubMessenger) Close() error {
	m.mu.Lock()
	consumers := m.consumers
	m.consumers = nil
	m.mu.Unlock()

	for _, c := range consumers {
		c.close()
	}
	return m.producer.close()
}
