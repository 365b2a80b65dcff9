package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Dashboards only send control frames.
	maxMessageSize = 512
)

// Client is one dashboard websocket connection. It is read-only: anything the
// browser sends besides control frames is discarded.
type Client struct {
	Xid  string
	conn *websocket.Conn
	hub  *Hub

	sendChan chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		Xid:      shortuuid.New(),
		hub:      hub,
		conn:     conn,
		sendChan: make(chan []byte, sendBuffer),
	}
}

// NewClient registers conn with the hub and starts its pumps.
func NewClient(hub *Hub, conn *websocket.Conn) error {
	client := newClient(hub, conn)
	if err := hub.join(client); err != nil {
		conn.Close()
		return err
	}

	go client.writePump()
	go client.readPump()

	return nil
}

func (client *Client) readPump() {
	defer func() {
		client.hub.leave(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error { client.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				log.Warn("Dashboard client %s read error: %v", client.Xid, err)
			}
			log.Debug("Dashboard client %s disconnected", client.Xid)
			return
		}
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.sendChan:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
