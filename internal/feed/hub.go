// Package feed pushes bus notifications to websocket clients as JSON
// messages of the form {"kind": ..., "time": ..., "data": ...}.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"synctray-agent/internal/logger"
	"synctray-agent/internal/syncthing"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	sendBuffer      = 256
	broadcastBuffer = 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the frame sent to feed clients.
type Message struct {
	Kind string                 `json:"kind"`
	Time time.Time              `json:"time"`
	Data syncthing.Notification `json:"data"`
}

// Hub fans notifications out to every connected client. Serve and Stop make
// it a suture service.
type Hub struct {
	log logger.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	stop       chan struct{}
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBuffer),
		stop:       make(chan struct{}),
	}
}

// Serve runs the hub until Stop is called. All clients are disconnected on
// the way out.
func (h *Hub) Serve() {
	h.mu.Lock()
	stop := make(chan struct{})
	h.stop = stop
	h.mu.Unlock()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debugf("Feed client %s connected from %s (%d total)", client.ID, client.remoteAddr, n)

		case client := <-h.unregister:
			h.remove(client)

		case data := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				h.log.Warningf("Dropping slow feed client %s", client.ID)
				h.remove(client)
			}

		case <-stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
		h.log.Debugf("Feed client %s disconnected", client.ID)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify is a bus handler. It never blocks the bus: when the hub falls
// behind, notifications are dropped.
func (h *Hub) Notify(n syncthing.Notification) {
	data, err := json.Marshal(Message{Kind: n.Kind(), Time: time.Now(), Data: n})
	if err != nil {
		h.log.Errorf("Failed to encode %s notification: %v", n.Kind(), err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warningf("Feed backlog full, dropping %s notification", n.Kind())
	}
}

// ServeWS upgrades the request and attaches a new client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warningf("Feed upgrade failed: %v", err)
		return
	}

	client := &Client{
		ID:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		hub:        h,
		remoteAddr: r.RemoteAddr,
	}

	h.mu.RLock()
	stop := h.stop
	h.mu.RUnlock()
	select {
	case h.register <- client:
	case <-stop:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *Hub) leave(client *Client) {
	h.mu.RLock()
	stop := h.stop
	h.mu.RUnlock()
	select {
	case h.unregister <- client:
	case <-stop:
	}
}
