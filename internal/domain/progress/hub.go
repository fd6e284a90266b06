package progress

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Connection is one websocket client following a product.
type Connection struct {
	ProductID uuid.UUID
	UserID    uuid.UUID
	Conn      *websocket.Conn
	Send      chan []byte
}

// Hub fans progress events out to websocket clients. With Redis, events
// published on any instance reach clients connected to every instance.
type Hub struct {
	connections map[uuid.UUID]map[*Connection]bool
	mu          sync.RWMutex

	redis  *redis.Client
	pubsub *redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. redisClient may be nil for a single instance.
func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		connections: make(map[uuid.UUID]map[*Connection]bool),
		redis:       redisClient,
		ctx:         ctx,
		cancel:      cancel,
	}
	if redisClient != nil {
		h.pubsub = redisClient.PSubscribe(ctx, channelPrefix+"*")
	}
	return h
}

// Run forwards Redis messages to local clients until Stop is called.
func (h *Hub) Run() {
	if h.pubsub == nil {
		<-h.ctx.Done()
		return
	}

	ch := h.pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			productID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
			if err != nil {
				continue
			}
			h.deliver(productID, []byte(msg.Payload))
		}
	}
}

// Stop closes the subscription and every local connection.
func (h *Hub) Stop() {
	h.cancel()
	if h.pubsub != nil {
		_ = h.pubsub.Close()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for productID, conns := range h.connections {
		for c := range conns {
			close(c.Send)
		}
		delete(h.connections, productID)
	}
}

// Publish sends ev to every client following its product. Generation never
// fails because of progress delivery, so callers may ignore the error.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if h.redis == nil {
		h.deliver(ev.ProductID, payload)
		return nil
	}
	return h.redis.Publish(ctx, Channel(ev.ProductID), payload).Err()
}

func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connections[c.ProductID] == nil {
		h.connections[c.ProductID] = make(map[*Connection]bool)
	}
	h.connections[c.ProductID][c] = true
	log.Debug().
		Str("product_id", c.ProductID.String()).
		Str("user_id", c.UserID.String()).
		Msg("Progress stream connected")
}

func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.connections[c.ProductID]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	close(c.Send)
	if len(conns) == 0 {
		delete(h.connections, c.ProductID)
	}
}

// Connections returns the number of local clients following productID.
func (h *Hub) Connections(productID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[productID])
}

func (h *Hub) deliver(productID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections[productID] {
		select {
		case c.Send <- payload:
		default:
			log.Warn().Str("product_id", productID.String()).Msg("Progress client too slow, event dropped")
		}
	}
}
