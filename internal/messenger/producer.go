package messenger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// producer is this node's publish-side socket: an HTTP server that upgrades
// every inbound connection to a websocket and fans every Broadcast frame
// out to all of them, the equivalent of ZmqProducer's zmq.PUB bind.
type producer struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	server *http.Server
	logger *log.Logger
}

func newProducer(addr string) (*producer, error) {
	p := &producer{
		clients: make(map[*websocket.Conn]struct{}),
		logger:  log.New(os.Stdout, "MSG_PRODUCER: ", log.Ldate|log.Ltime|log.Lshortfile),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handleSubscribe)
	p.server = &http.Server{Addr: addr, Handler: mux}

	ln, err := newListener(addr)
	if err != nil {
		return nil, fmt.Errorf("messenger: bind producer: %w", err)
	}
	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Printf("serve error: %v", err)
		}
	}()
	return p, nil
}

func (p *producer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Printf("upgrade failed: %v", err)
		return
	}
	p.mu.Lock()
	p.clients[conn] = struct{}{}
	p.mu.Unlock()
	p.logger.Printf("subscriber connected from %s", r.RemoteAddr)

	// The producer never reads application data from a subscriber; it only
	// needs to notice disconnects, mirroring a PUB socket's one-way flow.
	go func() {
		defer p.drop(conn)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

func (p *producer) drop(conn *websocket.Conn) {
	p.mu.Lock()
	delete(p.clients, conn)
	p.mu.Unlock()
	conn.Close()
}

// broadcast writes frame to every connected subscriber, dropping any
// connection that errors rather than letting one dead peer block the rest.
func (p *producer) broadcast(frame string) {
	p.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(p.clients))
	for c := range p.clients {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			p.drop(conn)
		}
	}
}

func (p *producer) close() error {
	p.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(p.clients))
	for c := range p.clients {
		conns = append(conns, c)
	}
	p.clients = make(map[*websocket.Conn]struct{})
	p.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return p.server.Shutdown(ctx)
}
