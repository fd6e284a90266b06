package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techpack/techpack-api/internal/pkg/jwt"
)

type ownerMap map[uuid.UUID]uuid.UUID

func (m ownerMap) ProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error) {
	owner, ok := m[productID]
	if !ok {
		return uuid.Nil, ErrProductNotFound
	}
	return owner, nil
}

func TestStreamForwardsEventsForOwnedProduct(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	hub := NewHub(nil)
	defer hub.Stop()

	userID, productID := uuid.New(), uuid.New()
	h := NewHandler(hub, jwtSvc, ownerMap{productID: userID}, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	token, err := jwtSvc.GenerateAccessToken(userID, "maker@example.com", "authenticated")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?productId=" + productID.String() + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connections(productID) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), Event{
		ProductID: productID,
		Operation: "complete",
		Step:      "sketches",
		Status:    StepCompleted,
	}))
	// Events for other products are not forwarded.
	require.NoError(t, hub.Publish(context.Background(), Event{ProductID: uuid.New(), Status: Failed}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, productID, ev.ProductID)
	assert.Equal(t, StepCompleted, ev.Status)
	assert.Equal(t, "sketches", ev.Step)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestStreamRejectsBeforeUpgrade(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	owner, other, productID := uuid.New(), uuid.New(), uuid.New()
	h := NewHandler(NewHub(nil), jwtSvc, ownerMap{productID: owner}, nil)

	otherToken, _ := jwtSvc.GenerateAccessToken(other, "other@example.com", "authenticated")
	ownerToken, _ := jwtSvc.GenerateAccessToken(owner, "owner@example.com", "authenticated")

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing token", "?productId=" + productID.String(), http.StatusUnauthorized},
		{"bad token", "?productId=" + productID.String() + "&token=garbage", http.StatusUnauthorized},
		{"bad product id", "?productId=nope&token=" + ownerToken, http.StatusBadRequest},
		{"unknown product", "?productId=" + uuid.NewString() + "&token=" + ownerToken, http.StatusNotFound},
		{"not owner", "?productId=" + productID.String() + "&token=" + otherToken, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Stream(w, httptest.NewRequest(http.MethodGet, "/ws/progress"+tt.query, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
