package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/observability"
	"ridedispatch/internal/types"
)

const (
	writeWait = 5 * time.Second
	sendQueue = 16
)

// wsClient owns one connection. Only its write pump writes after the
// snapshot has gone out; send is closed by the hub on removal.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) write(b []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *wsClient) writePump() {
	for b := range c.send {
		if err := c.write(b); err != nil {
			// Closing unblocks the read loop, which removes the client.
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

// Hub keeps websocket watchers per order and pushes every change to them.
// Broadcasting never blocks on a peer: each watcher has a bounded queue and
// a watcher whose queue is full is dropped.
type Hub struct {
	mu       sync.RWMutex
	subs     map[types.ID]map[*wsClient]struct{}
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		subs: make(map[types.ID]map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Serve upgrades the request and streams changes of orderID until the peer
// goes away. The watcher is registered before load is called, so a change
// committed while the snapshot is read is queued behind it, not lost.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, orderID types.ID, load func(context.Context) (interface{}, error)) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &wsClient{conn: conn, send: make(chan []byte, sendQueue)}
	h.add(orderID, c)
	defer h.remove(orderID, c)

	snapshot, err := load(r.Context())
	if err == nil {
		var b []byte
		if b, err = json.Marshal(snapshot); err == nil {
			err = c.write(b)
		}
	}
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "snapshot unavailable"),
			time.Now().Add(writeWait))
		return err
	}
	go c.writePump()

	// Inbound frames are ignored; reading surfaces the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (h *Hub) OrderChanged(_ context.Context, ev order.Event) error {
	h.mu.RLock()
	n := len(h.subs[ev.OrderID])
	h.mu.RUnlock()
	if n == 0 {
		return nil
	}

	b, err := json.Marshal(newMessage(ev))
	if err != nil {
		return err
	}
	var slow []*wsClient
	h.mu.RLock()
	for c := range h.subs[ev.OrderID] {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.WithField("order_id", ev.OrderID).Debug("drop slow websocket watcher")
		h.remove(ev.OrderID, c)
	}
	return nil
}

// Subscribers reports how many watchers orderID has.
func (h *Hub) Subscribers(orderID types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[orderID])
}

// Close disconnects every watcher.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		for c := range set {
			close(c.send)
			_ = c.conn.Close()
			observability.WebsocketClients.Dec()
		}
		delete(h.subs, id)
	}
}

func (h *Hub) add(orderID types.ID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[orderID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.subs[orderID] = set
	}
	set[c] = struct{}{}
	observability.WebsocketClients.Inc()
}

func (h *Hub) remove(orderID types.ID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[orderID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, orderID)
	}
	close(c.send)
	_ = c.conn.Close()
	observability.WebsocketClients.Dec()
}
