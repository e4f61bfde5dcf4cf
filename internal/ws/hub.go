package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const writeTimeout = 10 * time.Second

// Message is the wire envelope for every server -> client event.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type GameStartEvent struct {
	GameID         string `json:"gameId"`
	ServerSeedHash string `json:"serverSeedHash"`
}

type GameTickEvent struct {
	Multiplier float64 `json:"multiplier"`
	Elapsed    int64   `json:"elapsed"`
}

type GameCrashEvent struct {
	CrashPoint float64 `json:"crashPoint"`
	ServerSeed string  `json:"serverSeed"`
	Reveal     string  `json:"reveal"`
}

type PlayerBetEvent struct {
	UserID   string  `json:"userId"`
	UserName string  `json:"userName"`
	Amount   float64 `json:"amount"`
}

type PlayerCashoutEvent struct {
	UserID     string  `json:"userId"`
	Multiplier float64 `json:"multiplier"`
	WinAmount  float64 `json:"winAmount"`
}

type client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

// Hub fans round and bet lifecycle events out to every connected
// client. It implements the crash engine's Broadcaster contract; all
// publishes are fire-and-forget and never block the caller.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan Message
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Client connected: %s (total: %d)", c.userID, total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Client disconnected: %s (total: %d)", c.userID, total)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("[WS] Marshal error: %v", err)
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				go c.write(data)
			}
			h.mu.RUnlock()
		}
	}
}

// publish enqueues without blocking; a full queue drops the event.
func (h *Hub) publish(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("[WS] Broadcast queue full, dropping %s", msg.Event)
	}
}

func (h *Hub) RoundStart(roundID, serverSeedHash string) {
	h.publish(Message{Event: "game:start", Data: GameStartEvent{GameID: roundID, ServerSeedHash: serverSeedHash}})
}

func (h *Hub) Tick(multiplier float64, elapsedMs int64) {
	h.publish(Message{Event: "game:tick", Data: GameTickEvent{Multiplier: multiplier, Elapsed: elapsedMs}})
}

func (h *Hub) RoundCrash(crashPoint float64, serverSeed string) {
	h.publish(Message{Event: "game:crash", Data: GameCrashEvent{CrashPoint: crashPoint, ServerSeed: serverSeed, Reveal: serverSeed}})
}

func (h *Hub) PlayerBet(userID, displayName string, amount float64) {
	h.publish(Message{Event: "player:bet", Data: PlayerBetEvent{UserID: userID, UserName: displayName, Amount: amount}})
}

func (h *Hub) PlayerCashout(userID string, multiplier, winAmount float64) {
	h.publish(Message{Event: "player:cashout", Data: PlayerCashoutEvent{UserID: userID, Multiplier: multiplier, WinAmount: winAmount}})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendTo pushes a message to a single connection, outside the fan-out
// path. Used for the initial state on connect.
func (h *Hub) SendTo(conn *websocket.Conn, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.conn == conn {
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("[WS] Marshal error: %v", err)
				return
			}
			go c.write(data)
			return
		}
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) {
	h.register <- &client{conn: conn, userID: userID}
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.mu.RLock()
	for c := range h.clients {
		if c.conn == conn {
			h.mu.RUnlock()
			h.unregister <- c
			return
		}
	}
	h.mu.RUnlock()
}

func (c *client) write(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[WS] Write error for user %s: %v", c.userID, err)
	}
}
