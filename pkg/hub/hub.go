// Package hub pushes live game events to dashboard websocket clients.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sonastea/questbot/pkg/logger"
	"github.com/sonastea/questbot/pkg/notify"
	"google.golang.org/protobuf/encoding/protojson"
)

var log = logger.Named("hub")

// ErrHubClosed is returned when registering with a hub whose Run has returned.
var ErrHubClosed = errors.New("hub is closed")

// sendBuffer is how many frames a client may fall behind before it is dropped.
const sendBuffer = 32

type Hub struct {
	register   chan *Client
	unregister chan *Client
	// done is closed once Run returns
	done chan struct{}

	clientsMu sync.RWMutex
	clients   map[*Client]bool

	redis  *redis.Client
	pubsub *PubSub
}

// New builds a hub. With a nil redis client the hub only serves clients
// registered directly and Relay calls.
func New(rdb *redis.Client) *Hub {
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		redis:      rdb,
	}
	if rdb != nil {
		h.pubsub = NewPubSub(rdb)
	}
	return h
}

// Run owns client registration until ctx is done. It must be called once.
func (hub *Hub) Run(ctx context.Context) {
	defer close(hub.done)
	if hub.pubsub != nil {
		go hub.ListenPubSub(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			hub.closeAll()
			return

		case client := <-hub.register:
			hub.addClient(ctx, client)

		case client := <-hub.unregister:
			hub.removeClient(client)
		}
	}
}

// join hands client to Run, failing once Run has returned.
func (hub *Hub) join(client *Client) error {
	select {
	case hub.register <- client:
		return nil
	case <-hub.done:
		return ErrHubClosed
	}
}

// leave hands client back to Run. After Run returns every client was already
// dropped by closeAll, so there is nothing left to do.
func (hub *Hub) leave(client *Client) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

func (hub *Hub) getTotalClients() int {
	hub.clientsMu.RLock()
	defer hub.clientsMu.RUnlock()
	return len(hub.clients)
}

func (hub *Hub) addClient(ctx context.Context, client *Client) {
	hub.clientsMu.Lock()
	hub.clients[client] = true
	hub.clientsMu.Unlock()

	log.Info("Dashboard client %s connected - connection pool size: %d", client.Xid, hub.getTotalClients())
	hub.replaySnapshot(ctx, client)
}

func (hub *Hub) removeClient(client *Client) {
	hub.clientsMu.Lock()
	defer hub.clientsMu.Unlock()
	if _, ok := hub.clients[client]; ok {
		delete(hub.clients, client)
		close(client.sendChan)
		log.Info("Dashboard client %s left - connection pool size: %d", client.Xid, len(hub.clients))
	}
}

func (hub *Hub) closeAll() {
	hub.clientsMu.Lock()
	defer hub.clientsMu.Unlock()
	for client := range hub.clients {
		delete(hub.clients, client)
		close(client.sendChan)
	}
}

// replaySnapshot sends the cached boss event so a new client does not wait
// for the next refresh.
func (hub *Hub) replaySnapshot(ctx context.Context, client *Client) {
	if hub.redis == nil {
		return
	}
	wire, err := hub.redis.Get(ctx, notify.RedisKeyBossSnapshot).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn("Failed to read boss snapshot: %v", err)
		}
		return
	}
	frame, err := toFrame(wire)
	if err != nil {
		log.Warn("Dropping bad boss snapshot: %v", err)
		return
	}

	hub.clientsMu.RLock()
	defer hub.clientsMu.RUnlock()
	if hub.clients[client] {
		hub.send(client, frame)
	}
}

// Relay converts an encoded event to the JSON frame browsers read and
// broadcasts it.
func (hub *Hub) Relay(wire []byte) error {
	frame, err := toFrame(wire)
	if err != nil {
		return err
	}
	hub.broadcastToClients(frame)
	return nil
}

func toFrame(wire []byte) ([]byte, error) {
	envelope, err := notify.Decode(wire)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(envelope)
}

func (hub *Hub) broadcastToClients(message []byte) {
	hub.clientsMu.RLock()
	defer hub.clientsMu.RUnlock()
	for client := range hub.clients {
		hub.send(client, message)
	}
}

// send must be called with clientsMu held. A client whose buffer is full is
// unregistered instead of blocking the broadcast.
func (hub *Hub) send(client *Client, message []byte) {
	select {
	case client.sendChan <- message:
	default:
		log.Warn("Dashboard client %s is too slow, dropping it", client.Xid)
		go hub.leave(client)
	}
}
