package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bitvex/bitvex/internal/database"
	"github.com/bitvex/bitvex/internal/models"
	"github.com/bitvex/bitvex/internal/wallet"
	"github.com/bitvex/bitvex/internal/ws"
)

type stubStore struct {
	created   []*models.Order
	latest    *models.BookSnapshot
	byID      map[uint]*models.BookSnapshot
	snapshots []models.SnapshotInfo
}

func (s *stubStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.created = append(s.created, order)
	return nil
}

func (s *stubStore) LatestSnapshot(ctx context.Context) (*models.BookSnapshot, error) {
	return s.latest, nil
}

func (s *stubStore) SnapshotByID(ctx context.Context, id uint) (*models.BookSnapshot, error) {
	return s.byID[id], nil
}

func (s *stubStore) ListSnapshots(ctx context.Context, limit int) ([]models.SnapshotInfo, error) {
	if limit < len(s.snapshots) {
		return s.snapshots[:limit], nil
	}
	return s.snapshots, nil
}

type stubSubmitter struct {
	submitted []*models.Order
}

func (s *stubSubmitter) Submit(ctx context.Context, order *models.Order) error {
	s.submitted = append(s.submitted, order)
	return nil
}

func setupServer(t *testing.T) (*Server, *stubStore, *stubSubmitter, *wallet.Service) {
	t.Helper()
	db, err := database.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	log := zap.NewNop()
	wallets := wallet.NewService(db, log)
	store := &stubStore{byID: make(map[uint]*models.BookSnapshot)}
	submitter := &stubSubmitter{}
	server := NewServer(log, store, wallets, submitter, ws.NewHub(log), nil, Config{
		DevMode:        true,
		FiatCurrency:   "EUR",
		CryptoCurrency: "BTC",
	})
	return server, store, submitter, wallets
}

func doJSON(server *Server, method, path, body string, accountID uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if accountID != uuid.Nil {
		req.Header.Set("X-Account-ID", accountID.String())
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderAcceptsFundedBid(t *testing.T) {
	server, store, submitter, wallets := setupServer(t)
	accountID := uuid.New()
	_, err := wallets.SetAmount(context.Background(), accountID, "EUR", decimal.NewFromInt(1000))
	require.NoError(t, err)

	rec := doJSON(server, http.MethodPost, "/api/v1/orders",
		`{"side":"BID","quantity":"0.5","price":"500"}`, accountID)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, store.created, 1)
	require.Len(t, submitter.submitted, 1)
	order := submitter.submitted[0]
	assert.Equal(t, accountID, order.AccountID)
	assert.Equal(t, models.SideBid, order.Side)
	assert.Equal(t, models.OrderStatusOpen, order.Status)
	assert.Equal(t, "0.5", order.Remaining.String())
}

func TestCreateOrderRejectsUnderfundedAsk(t *testing.T) {
	server, store, submitter, _ := setupServer(t)

	rec := doJSON(server, http.MethodPost, "/api/v1/orders",
		`{"side":"ASK","quantity":"1","price":"100"}`, uuid.New())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, store.created)
	assert.Empty(t, submitter.submitted)
}

func TestCreateOrderValidation(t *testing.T) {
	server, _, _, wallets := setupServer(t)
	accountID := uuid.New()
	_, err := wallets.SetAmount(context.Background(), accountID, "EUR", decimal.NewFromInt(1000))
	require.NoError(t, err)

	cases := []struct {
		name string
		body string
	}{
		{"unknown side", `{"side":"SHORT","quantity":"1","price":"10"}`},
		{"zero quantity", `{"side":"BID","quantity":"0","price":"10"}`},
		{"negative price", `{"side":"BID","quantity":"1","price":"-10"}`},
		{"garbage quantity", `{"side":"BID","quantity":"a lot","price":"10"}`},
		{"missing price", `{"side":"BID","quantity":"1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(server, http.MethodPost, "/api/v1/orders", tc.body, accountID)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateOrderRequiresAccount(t *testing.T) {
	server, _, _, _ := setupServer(t)
	rec := doJSON(server, http.MethodPost, "/api/v1/orders",
		`{"side":"BID","quantity":"1","price":"10"}`, uuid.Nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSnapshotFallsBackToEmptyBook(t *testing.T) {
	server, _, _, _ := setupServer(t)
	rec := doJSON(server, http.MethodGet, "/api/v1/orderbook/snapshot", "", uuid.Nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Bids)
	assert.Empty(t, resp.Asks)
}

func TestGetSnapshotByID(t *testing.T) {
	server, store, _, _ := setupServer(t)
	store.byID[7] = &models.BookSnapshot{
		ID:       7,
		BidsJSON: `[{"price":"50","amount":"2"}]`,
		AsksJSON: `[]`,
	}

	rec := doJSON(server, http.MethodGet, "/api/v1/orderbook/snapshot?id=7", "", uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint(7), resp.ID)
	require.Len(t, resp.Bids, 1)
	assert.Equal(t, "50", resp.Bids[0].Price.String())

	rec = doJSON(server, http.MethodGet, "/api/v1/orderbook/snapshot?id=999", "", uuid.Nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSnapshots(t *testing.T) {
	server, store, _, _ := setupServer(t)
	store.snapshots = []models.SnapshotInfo{{ID: 3}, {ID: 2}, {ID: 1}}

	rec := doJSON(server, http.MethodGet, "/api/v1/orderbook/snapshots?limit=2", "", uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Snapshots []models.SnapshotInfo `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Snapshots, 2)
	assert.Equal(t, uint(3), resp.Snapshots[0].ID)
}

func TestDevWalletOverride(t *testing.T) {
	server, _, _, _ := setupServer(t)
	accountID := uuid.New()

	rec := doJSON(server, http.MethodPost, "/api/v1/wallets/EUR/amount",
		`{"amount":"250"}`, accountID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(server, http.MethodGet, "/api/v1/wallets/EUR", "", accountID)
	require.Equal(t, http.StatusOK, rec.Code)
	var w models.Wallet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &w))
	assert.Equal(t, "250", w.Amount.String())

	rec = doJSON(server, http.MethodPost, "/api/v1/wallets/EUR/amount",
		`{"amount":"-1"}`, accountID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
