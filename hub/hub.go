package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yeremiapane/table-join/services"
	"github.com/yeremiapane/table-join/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// Message is the frame pushed to every screen.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Subscription selects which join events a connection receives. A staff
// screen watches a merchant; a guest screen watches one table. An empty
// MerchantID with no TableID receives everything (admin).
type Subscription struct {
	MerchantID string
	TableID    uint
	Role       string
}

func (s Subscription) matches(ev services.JoinEvent) bool {
	if s.TableID != 0 {
		return ev.Involves(s.TableID)
	}
	return s.MerchantID == "" || s.MerchantID == ev.MerchantID
}

type client struct {
	conn *websocket.Conn
	sub  Subscription
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub holds the connected staff and guest screens and pushes join events to
// the ones subscribed to them. It implements services.Notifier.
type Hub struct {
	mutex   sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Serve registers conn and blocks until the peer goes away.
func (h *Hub) Serve(conn *websocket.Conn, sub Subscription) {
	c := &client{conn: conn, sub: sub, send: make(chan []byte, sendBuffer)}
	h.register(c)
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mutex.Lock()
	h.clients[c] = struct{}{}
	h.mutex.Unlock()
	utils.InfoLogger.Printf("WebSocket client connected: role=%s merchant=%s table=%d", c.sub.Role, c.sub.MerchantID, c.sub.TableID)
}

func (h *Hub) unregister(c *client) {
	h.mutex.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mutex.Unlock()
}

// readPump drains client frames; screens only listen, so anything received
// is discarded.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.ErrorLogger.Printf("WebSocket read error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				utils.ErrorLogger.Printf("Error sending message to client: %v", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Notify pushes ev to every matching screen. A screen whose buffer is full is
// disconnected rather than allowed to stall the others.
func (h *Hub) Notify(_ context.Context, ev services.JoinEvent) error {
	data, err := json.Marshal(Message{Event: string(ev.Type), Data: ev})
	if err != nil {
		return err
	}

	var slow []*client
	h.mutex.RLock()
	for c := range h.clients {
		if !c.sub.matches(ev) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mutex.RUnlock()

	for _, c := range slow {
		utils.ErrorLogger.Printf("Dropping slow WebSocket client: merchant=%s table=%d", c.sub.MerchantID, c.sub.TableID)
		h.unregister(c)
	}
	return nil
}

// ClientCount returns the number of connected screens.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
