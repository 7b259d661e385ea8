package messenger

import (
	"log"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnect interval bounds, ported directly from zmqmessenger.py's
// ZMQ_RECONNECT_IVL / ZMQ_RECONNECT_IVL_MAX socket options.
const (
	reconnectIvl    = 500 * time.Millisecond
	reconnectIvlMax = 10 * time.Second
)

// consumer is one subscriber connection to a peer's producer, the
// equivalent of a ZmqConsumer bound to a single remote PUB socket.
type consumer struct {
	peerIndex int
	addr      string
	onFrame   func(frame string)

	mu     sync.Mutex
	conn   *websocket.Conn
	stopCh chan struct{}
	logger *log.Logger
}

func newConsumer(peerIndex int, addr string, onFrame func(frame string)) *consumer {
	c := &consumer{
		peerIndex: peerIndex,
		addr:      addr,
		onFrame:   onFrame,
		stopCh:    make(chan struct{}),
		logger:    log.New(os.Stdout, "MSG_CONSUMER: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
	go c.run()
	return c
}

func (c *consumer) run() {
	backoff := reconnectIvl
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, err := dial(c.addr)
		if err != nil {
			c.logger.Printf("peer %d at %s: dial failed: %v", c.peerIndex, c.addr, err)
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = reconnectIvl
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}
}

func (c *consumer) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		c.onFrame(string(data))
	}
}

// sleep waits for d or until stopCh fires, reporting whether it slept to
// completion (false means the consumer was stopped).
func (c *consumer) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.stopCh:
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectIvlMax {
		return reconnectIvlMax
	}
	return d
}

func dial(addr string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	return conn, err
}

// probe mirrors zmqmessenger.py's reconnect(): a raw TCP connect attempt
// used purely to log whether the peer is reachable, independent of
// whether the websocket dial itself already succeeded.
func probe(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *consumer) close() {
	close(c.stopCh)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}
