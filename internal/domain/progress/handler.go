package progress

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/techpack/techpack-api/internal/pkg/jwt"
	"github.com/techpack/techpack-api/internal/pkg/response"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// ErrProductNotFound is returned by an OwnerLookup for unknown products.
var ErrProductNotFound = errors.New("product not found")

// OwnerLookup resolves the owner of a product.
type OwnerLookup interface {
	ProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error)
}

// Handler serves the progress websocket.
type Handler struct {
	hub      *Hub
	jwt      *jwt.Service
	owners   OwnerLookup
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, jwtService *jwt.Service, owners OwnerLookup, allowedOrigins []string) *Handler {
	return &Handler{
		hub:    hub,
		jwt:    jwtService,
		owners: owners,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// Stream handles GET /ws/progress?productId=&token=
// Browsers cannot set headers on websocket requests, so the token may come
// from the query string.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		response.Unauthorized(w, "Authentication required")
		return
	}
	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Unauthorized(w, "Invalid token")
		return
	}
	userID, _ := claims.UserID()

	productID, err := uuid.Parse(r.URL.Query().Get("productId"))
	if err != nil {
		response.BadRequest(w, "Invalid productId")
		return
	}

	owner, err := h.owners.ProductOwner(r.Context(), productID)
	switch {
	case errors.Is(err, ErrProductNotFound):
		response.NotFound(w, "Product not found")
		return
	case err != nil:
		response.InternalError(w)
		return
	case owner != userID:
		response.Forbidden(w, "Access denied")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Connection{
		ProductID: productID,
		UserID:    userID,
		Conn:      conn,
		Send:      make(chan []byte, 64),
	}
	h.hub.Register(client)

	go h.reader(client)
	go h.writer(client)
}

// reader only drains control frames; clients do not send events.
func (h *Handler) reader(c *Connection) {
	defer func() {
		h.hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("product_id", c.ProductID.String()).Msg("Progress stream read error")
			}
			return
		}
	}
}

func (h *Handler) writer(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
