package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/batua/wallet/src/domain"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T, coingeckoURL string) AppConfig {
	t.Helper()
	return AppConfig{
		StorageDriver:        lo.ToPtr(StorageMemory),
		MigrationPath:        lo.ToPtr("file://migrations"),
		Environment:          lo.ToPtr("test"),
		Host:                 lo.ToPtr("localhost:0"),
		LogLevel:             lo.ToPtr("disabled"),
		LogFormat:            lo.ToPtr(LogFormatJSON),
		Port:                 lo.ToPtr("0"),
		AllowOrigins:         &[]string{"http://localhost:5173"},
		APISecret:            lo.ToPtr(""),
		Chains:               &[]domain.Chain{domain.BaseSepolia, domain.Sepolia},
		RPCURLs:              map[uint64]string{},
		BundlerURLs:          map[uint64]string{},
		PaymasterURLs:        map[uint64]string{},
		DappName:             lo.ToPtr("Batua Test"),
		WalletName:           lo.ToPtr("Batua"),
		KernelVersion:        lo.ToPtr(""),
		RPDisplayName:        lo.ToPtr("Batua"),
		RPID:                 lo.ToPtr("localhost"),
		RPOrigins:            &[]string{"http://localhost:5173"},
		AuthenticatorTimeout: lo.ToPtr(time.Minute),
		PriceRefreshInterval: lo.ToPtr(time.Hour),
		CoingeckoURL:         lo.ToPtr(coingeckoURL),
		RefreshInterval:      lo.ToPtr(time.Hour),
	}
}

func priceServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ethereum":{"usd":2345.5}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestApplication_ServesRPC(t *testing.T) {
	ctx := context.Background()
	app, err := NewApplication(ctx, testConfig(t, priceServer(t).URL))
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown(ctx) })

	srv := httptest.NewServer(app.Router(ctx))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/rpc", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"eth_chainId"}`))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":"0x14a34"}`, string(raw))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	raw, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "go_goroutines")
	assert.Contains(t, string(raw), "batua_rpc_requests_total")
}

func TestApplication_RefreshesPrice(t *testing.T) {
	ctx := context.Background()
	app, err := NewApplication(ctx, testConfig(t, priceServer(t).URL))
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown(ctx) })

	require.Eventually(t, func() bool {
		return app.Internal.Store.GetState().Price != nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, decimal.RequireFromString("2345.5").Equal(app.Internal.Store.GetState().Price.Value))
}

func TestApplication_Snapshot(t *testing.T) {
	ctx := context.Background()
	app, err := NewApplication(ctx, testConfig(t, priceServer(t).URL))
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown(ctx) })

	events := app.snapshot()
	types := lo.Map(events, func(e domain.Event, _ int) string { return e.Type })
	assert.Equal(t, []string{
		domain.EventAnnounceProvider,
		domain.EventChainChanged,
		domain.EventAccountsChanged,
		domain.EventQueueChanged,
	}, types)

	raw, err := json.Marshal(events[1].Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x14a34"`, string(raw))
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	testCases := []struct {
		name   string
		config func(c *AppConfig)
	}{
		{name: "memory", config: func(c *AppConfig) {}},
		{name: "badger", config: func(c *AppConfig) {
			c.StorageDriver = lo.ToPtr(StorageBadger)
			c.BadgerPath = lo.ToPtr("")
		}},
		{name: "redis", config: func(c *AppConfig) {
			c.StorageDriver = lo.ToPtr(StorageRedis)
			c.RedisAddr = lo.ToPtr("redis://" + mr.Addr())
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := testConfig(t, "")
			tc.config(&config)

			storage, closeStorage, err := openStorage(ctx, config)
			require.NoError(t, err)
			defer func() { require.NoError(t, closeStorage()) }()

			require.NoError(t, storage.SetItem(ctx, "batua.store", []byte(`{"chain":84532}`)))
			raw, err := storage.GetItem(ctx, "batua.store")
			require.NoError(t, err)
			assert.Equal(t, `{"chain":84532}`, string(raw))
		})
	}
}

func TestOpenStorage_RedisUnreachable(t *testing.T) {
	config := testConfig(t, "")
	config.StorageDriver = lo.ToPtr(StorageRedis)
	config.RedisAddr = lo.ToPtr("redis://127.0.0.1:1")

	_, _, err := openStorage(context.Background(), config)
	assert.Error(t, err)
}
