package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/auth"
	"delivery-backend/internal/cache"
	"delivery-backend/internal/config"
	"delivery-backend/internal/events"
	"delivery-backend/internal/handlers"
	"delivery-backend/internal/health"
	"delivery-backend/internal/middleware"
	"delivery-backend/internal/models"
	"delivery-backend/internal/policy"
	"delivery-backend/internal/services"
	"delivery-backend/internal/storetest"
	"delivery-backend/pkg/utils"
)

// mapCache keeps list bodies per prefix generation the way the Redis cache
// does.
type mapCache struct {
	mu   sync.Mutex
	gens map[string]int64
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{gens: map[string]int64{}, data: map[string][]byte{}}
}

func (c *mapCache) Generation(ctx context.Context, prefix string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[prefix], true
}

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) SetIfGeneration(ctx context.Context, prefix string, gen int64, key string, data []byte, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[prefix] != gen {
		return false
	}
	c.data[key] = data
	return true
}

func (c *mapCache) InvalidateRequests(ctx context.Context)   { c.invalidate(cache.RequestsPrefix) }
func (c *mapCache) InvalidateDeliveries(ctx context.Context) { c.invalidate(cache.DeliveriesPrefix) }

func (c *mapCache) invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[prefix]++
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
}

// pausingRequests lets a test hold a list read after it has taken its rows.
type pausingRequests struct {
	services.RequestStore
	mu     sync.Mutex
	listed chan struct{}
	resume chan struct{}
}

func (p *pausingRequests) pauseNextList() (listed, resume chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listed, p.resume = make(chan struct{}), make(chan struct{})
	return p.listed, p.resume
}

func (p *pausingRequests) List(ctx context.Context, filter models.RequestFilter) ([]*models.DeliveryRequest, error) {
	rows, err := p.RequestStore.List(ctx, filter)
	p.mu.Lock()
	listed, resume := p.listed, p.resume
	p.listed, p.resume = nil, nil
	p.mu.Unlock()
	if listed != nil {
		close(listed)
		<-resume
	}
	return rows, err
}

type alwaysUp struct{}

func (alwaysUp) Ping(context.Context) error { return nil }

type server struct {
	t        *testing.T
	srv      *httptest.Server
	tokens   map[string]string
	requests *pausingRequests
}

func newServer(t *testing.T) *server {
	t.Helper()
	cfg := &config.Config{}
	cfg.JWT.Secret = "router-test"
	cfg.JWT.Issuer = "delivery-backend"
	cfg.JWT.ExpirationHours = 1
	cfg.Server.CorsAllowedOrigins = []string{"*"}
	cfg.Server.RequestTimeout = 5 * time.Second

	logger, _ := test.NewNullLogger()
	hash, err := auth.HashPassword("pass1234")
	require.NoError(t, err)

	db := storetest.NewDB()
	north := 10
	db.AddBranch(north, "North Branch")
	db.AddUser(&models.User{ID: 1, Name: "Ada Admin", Email: "admin@example.com", PasswordHash: hash, Role: models.RoleAdmin, IsActive: true})
	db.AddUser(&models.User{ID: 2, Name: "Wes Warehouse", Email: "wes@example.com", PasswordHash: hash, Role: models.RoleWarehouse, IsActive: true})
	db.AddUser(&models.User{ID: 3, Name: "Wren Warehouse", Email: "wren@example.com", PasswordHash: hash, Role: models.RoleWarehouse, IsActive: true})
	db.AddUser(&models.User{ID: 4, Name: "Bea Branch", Email: "bea@example.com", PasswordHash: hash, Role: models.RoleBranch, BranchID: &north, IsActive: true})

	pol := policy.New()
	jwt := auth.NewJWTManager(cfg)
	users := services.NewUserService(db.Users(), jwt, logger)
	lists := newMapCache()
	requestStore := &pausingRequests{RequestStore: db.Requests()}

	requests := services.NewRequestService(requestStore, pol, logger)
	requests.Cache = lists
	processing := services.NewProcessingService(db.Requests(), db.Claims(), pol, logger)
	deliveries := services.NewDeliveryService(db.Deliveries(), db.Requests(), pol, logger)
	deliveries.Cache = lists
	archive := services.NewArchiveService(db.Archive(), db.Requests(), pol, logger)
	archive.Cache = lists

	router := NewRouter(Handlers{
		Auth:       handlers.NewAuthHandler(users, logger),
		Requests:   handlers.NewRequestHandler(requests, processing, lists, logger),
		Deliveries: handlers.NewDeliveryHandler(deliveries, services.NewWaybillService(deliveries, db.Requests()), lists, logger),
		Admin:      handlers.NewAdminHandler(archive, logger),
		Events:     handlers.NewEventsHandler(events.NewHub(logger), logger),
		Health:     handlers.NewHealthHandler(health.NewHealthChecker(alwaysUp{}, nil)),
	}, middleware.NewAuthMiddleware(jwt, users, logger))

	srv := httptest.NewServer(Wrap(cfg, logger, router))
	t.Cleanup(srv.Close)

	s := &server{t: t, srv: srv, tokens: map[string]string{}, requests: requestStore}
	for _, email := range []string{"admin@example.com", "wes@example.com", "wren@example.com", "bea@example.com"} {
		s.tokens[email] = s.login(email)
	}
	return s
}

func (s *server) login(email string) string {
	var resp models.AuthResponse
	code := s.do(http.MethodPost, "/auth/login", "", models.LoginRequest{Email: email, Password: "pass1234"}, &resp)
	require.Equal(s.t, http.StatusOK, code)
	return resp.Token
}

// do sends body as JSON with user's token and decodes the response into out.
func (s *server) do(method, path, user string, body, out interface{}) int {
	s.t.Helper()
	resp := s.raw(method, path, user, body)
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (s *server) raw(method, path, user string, body interface{}) *http.Response {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[user])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	return resp
}

const (
	adminUser  = "admin@example.com"
	wes        = "wes@example.com"
	wren       = "wren@example.com"
	branchUser = "bea@example.com"
)

func TestRequestToReceiptOverHTTP(t *testing.T) {
	s := newServer(t)

	var req models.DeliveryRequest
	code := s.do(http.MethodPost, "/api/requests", branchUser, models.CreateDeliveryRequestRequest{
		Items: []models.CreateRequestItem{
			{Description: "Rice bags", Quantity: 3, UnitPrice: 10},
			{Description: "Cooking oil", Quantity: 1, UnitPrice: 5},
		},
	}, &req)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 35.0, req.TotalAmount)
	id := strconv.Itoa(req.ID)

	code = s.do(http.MethodPut, "/api/requests/"+id+"/status", wes, models.UpdateRequestStatusRequest{Status: models.RequestApproved}, &req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.RequestApproved, req.RequestStatus)

	var conflict utils.ErrorBody
	code = s.do(http.MethodPut, "/api/requests/"+id+"/status", wren, models.UpdateRequestStatusRequest{Status: models.RequestRejected, Reason: "late"}, &conflict)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Wes Warehouse", conflict.Details["processed_by_name"])

	var status models.ProcessingStatus
	code = s.do(http.MethodPost, "/api/requests/"+id+"/processing", wes, nil, &status)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, status.IsCurrentUser)

	code = s.do(http.MethodPost, "/api/requests/"+id+"/processing", wren, nil, &conflict)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperr.KindConflict, conflict.Error)
	holder, ok := conflict.Details["processing_user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Wes Warehouse", holder["name"])

	var d models.Delivery
	code = s.do(http.MethodPost, "/api/deliveries", wes, models.CreateDeliveryRequest{
		RequestID:        &req.ID,
		RecipientName:    "North Branch Store",
		RecipientAddress: "12 Market Road",
	}, &d)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, req.ID, d.ID)
	did := strconv.Itoa(d.ID)

	var found models.Delivery
	code = s.do(http.MethodGet, "/api/deliveries/tracking/"+d.TrackingNumber, branchUser, nil, &found)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, d.ID, found.ID)

	code = s.do(http.MethodPost, "/api/deliveries/"+did+"/confirm", branchUser, nil, &conflict)
	assert.Equal(t, http.StatusPreconditionFailed, code)

	code = s.do(http.MethodPut, "/api/deliveries/"+did+"/status", branchUser, models.UpdateDeliveryStatusRequest{Status: models.DeliveryInTransit}, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code = s.do(http.MethodPut, "/api/deliveries/"+did+"/status", wes, models.UpdateDeliveryStatusRequest{Status: models.DeliveryInTransit}, &d)
	require.Equal(t, http.StatusOK, code)

	code = s.do(http.MethodPost, "/api/deliveries/"+did+"/confirm", branchUser, nil, &d)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.DeliveryDelivered, d.Status)
	assert.NotNil(t, d.ReceivedAt)

	code = s.do(http.MethodGet, "/api/requests/"+id, branchUser, nil, &req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.RequestDelivered, req.RequestStatus)

	resp := s.raw(http.MethodGet, "/api/deliveries/"+did+"/waybill", branchUser, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
}

func TestListIsCachedUntilMutation(t *testing.T) {
	s := newServer(t)

	var list []models.DeliveryRequest
	resp := s.raw(http.MethodGet, "/api/requests", wes, nil)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("X-Cache"))

	resp = s.raw(http.MethodGet, "/api/requests", wes, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Empty(t, list)

	code := s.do(http.MethodPost, "/api/requests", branchUser, models.CreateDeliveryRequestRequest{
		Items: []models.CreateRequestItem{{Description: "Salt", Quantity: 1, UnitPrice: 2}},
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	resp = s.raw(http.MethodGet, "/api/requests", wes, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("X-Cache"))
	assert.Len(t, list, 1)
}

func TestListReadOverlappingMutationIsNotCached(t *testing.T) {
	s := newServer(t)

	var req models.DeliveryRequest
	code := s.do(http.MethodPost, "/api/requests", branchUser, models.CreateDeliveryRequestRequest{
		Items: []models.CreateRequestItem{{Description: "Salt", Quantity: 1, UnitPrice: 2}},
	}, &req)
	require.Equal(t, http.StatusCreated, code)

	listed, resume := s.requests.pauseNextList()
	done := make(chan []models.DeliveryRequest, 1)
	go func() {
		var list []models.DeliveryRequest
		resp := s.raw(http.MethodGet, "/api/requests", wes, nil)
		json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		done <- list
	}()

	<-listed
	code = s.do(http.MethodPut, "/api/requests/"+strconv.Itoa(req.ID)+"/status", wren,
		models.UpdateRequestStatusRequest{Status: models.RequestApproved}, nil)
	require.Equal(t, http.StatusOK, code)
	close(resume)

	old := <-done
	require.Len(t, old, 1)
	assert.Equal(t, models.RequestPending, old[0].RequestStatus)

	var list []models.DeliveryRequest
	resp := s.raw(http.MethodGet, "/api/requests", wes, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.NotEqual(t, "HIT", resp.Header.Get("X-Cache"))
	require.Len(t, list, 1)
	assert.Equal(t, models.RequestApproved, list[0].RequestStatus)
}

func TestAuthAndErrors(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/requests", "", nil, nil))

	var body utils.ErrorBody
	code := s.do(http.MethodPost, "/auth/login", "", models.LoginRequest{Email: wes, Password: "nope"}, &body)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, apperr.KindAuthentication, body.Error)

	code = s.do(http.MethodPost, "/api/requests", wes, models.CreateDeliveryRequestRequest{
		Items: []models.CreateRequestItem{{Description: "Salt", Quantity: 1}},
	}, &body)
	assert.Equal(t, http.StatusForbidden, code)

	code = s.do(http.MethodPost, "/api/requests", branchUser, map[string]interface{}{"items": []interface{}{}}, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, apperr.KindValidation, body.Error)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/deliveries/99", wes, nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/deliveries?from=yesterday", wes, nil, nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/admin/archive/clear", wes, nil, nil))

	var result models.ArchiveResult
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/admin/archive/clear", adminUser, nil, &result))

	var me models.User
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/me", branchUser, nil, &me))
	assert.Equal(t, "Bea Branch", me.Name)
}

func TestHealthAndRequestID(t *testing.T) {
	s := newServer(t)

	resp := s.raw(http.MethodGet, "/health/ready", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}

func TestWrapBoundsHandlerContext(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 50 * time.Millisecond
	logger, _ := test.NewNullLogger()

	type outcome struct {
		hasDeadline bool
		err         error
	}
	seen := make(chan outcome, 1)
	blocked := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Context().Deadline()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		seen <- outcome{hasDeadline: ok, err: r.Context().Err()}
	})

	srv := httptest.NewServer(Wrap(cfg, logger, blocked))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/requests")
	require.NoError(t, err)
	resp.Body.Close()

	got := <-seen
	assert.True(t, got.hasDeadline)
	assert.Equal(t, context.DeadlineExceeded, got.err)
}
