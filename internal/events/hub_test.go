package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-backend/internal/models"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	north := 10
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := models.Caller{UserID: 1, Role: models.RoleWarehouse}
		if r.URL.Query().Get("role") == "branch" {
			caller = models.Caller{UserID: 2, Role: models.RoleBranch, BranchID: &north}
		}
		hub.ServeWS(w, r, caller)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastRespectsBranch(t *testing.T) {
	hub, srv := startHub(t)
	staff := dial(t, srv, "role=staff")
	branch := dial(t, srv, "role=branch")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 10*time.Millisecond)

	south := 11
	north := 10
	hub.Publish(models.LifecycleEvent{Type: models.EventDeliveryStatus, EntityID: 1, BranchID: &south})
	hub.Publish(models.LifecycleEvent{Type: models.EventDeliveryStatus, EntityID: 2, BranchID: &north})

	var got models.LifecycleEvent
	require.NoError(t, staff.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, staff.ReadJSON(&got))
	assert.Equal(t, 1, got.EntityID)
	require.NoError(t, staff.ReadJSON(&got))
	assert.Equal(t, 2, got.EntityID)

	require.NoError(t, branch.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, branch.ReadJSON(&got))
	assert.Equal(t, 2, got.EntityID, "the other branch's event is filtered out")
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
