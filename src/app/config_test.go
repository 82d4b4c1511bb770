package app

import (
	"math/big"
	"testing"
	"time"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/wallet"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChainID(t *testing.T) {
	testCases := []struct {
		raw     string
		want    uint64
		wantErr bool
	}{
		{raw: "84532", want: 84532},
		{raw: "0x14a34", want: 84532},
		{raw: "sepolia", wantErr: true},
		{raw: "-1", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := parseChainID(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseBoosted(t *testing.T) {
	boosted, err := parseBoosted("")
	require.NoError(t, err)
	assert.Nil(t, boosted)

	boosted, err = parseBoosted("false")
	require.NoError(t, err)
	assert.Nil(t, boosted)

	boosted, err = parseBoosted("TRUE")
	require.NoError(t, err)
	require.NotNil(t, boosted)
	assert.False(t, boosted.HasGasLimits())

	boosted, err = parseBoosted("100000, 0x61a80,50000")
	require.NoError(t, err)
	require.NotNil(t, boosted)
	assert.Equal(t, big.NewInt(100000), boosted.CallGasLimit)
	assert.Equal(t, big.NewInt(400000), boosted.VerificationGasLimit)
	assert.Equal(t, big.NewInt(50000), boosted.PreVerificationGas)

	_, err = parseBoosted("1,2")
	assert.Error(t, err)
	_, err = parseBoosted("1,two,3")
	assert.Error(t, err)
	_, err = parseBoosted("1,-2,3")
	assert.Error(t, err)
}

func TestGetDuration(t *testing.T) {
	t.Setenv("BATUA_TEST_DURATION", "")
	assert.Equal(t, time.Minute, getDuration("BATUA_TEST_DURATION", time.Minute))

	t.Setenv("BATUA_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, getDuration("BATUA_TEST_DURATION", time.Minute))

	t.Setenv("BATUA_TEST_DURATION", "30")
	assert.Equal(t, 30*time.Second, getDuration("BATUA_TEST_DURATION", time.Minute))

	t.Setenv("BATUA_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, getDuration("BATUA_TEST_DURATION", time.Minute))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Empty(t, splitList(""))
}

func TestNewAppConfig_Chains(t *testing.T) {
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CHAINS", "0x14a34, 11155111")
	t.Setenv("RPC_URL_84532", "http://node.test")
	t.Setenv("BUNDLER_URL_84532", "http://bundler.test")
	t.Setenv("PAYMASTER_URL_11155111", "http://paymaster.test")
	t.Setenv("PAYMASTER_CONTEXT", `{"sponsorshipPolicyId":"sp_test"}`)
	t.Setenv("BOOSTED", "true")
	t.Setenv("DAPP_NAME", "Example")

	config := NewAppConfig()

	require.Len(t, *config.Chains, 2)
	assert.Equal(t, domain.BaseSepolia.ID, (*config.Chains)[0].ID)
	assert.Equal(t, domain.Sepolia.ID, (*config.Chains)[1].ID)
	assert.Equal(t, StorageMemory, *config.StorageDriver)
	assert.Equal(t, []string{"http://localhost:5173"}, *config.AllowOrigins)

	cfg := config.WalletConfig()
	assert.Equal(t, "Example", cfg.DappName)
	assert.Equal(t, wallet.DefaultWalletName, cfg.WalletName)
	assert.Equal(t, "http://node.test", cfg.RPC[domain.BaseSepolia.ID].URL)
	assert.Equal(t, "http://bundler.test", cfg.Bundler[domain.BaseSepolia.ID].URL)
	require.NotNil(t, cfg.Boosted)

	transport, ok := cfg.PaymasterTransport(domain.Sepolia.ID)
	require.True(t, ok)
	assert.Equal(t, "http://paymaster.test", transport.URL)
	_, ok = cfg.PaymasterTransport(domain.BaseSepolia.ID)
	assert.False(t, ok)
	assert.Equal(t, map[string]interface{}{"sponsorshipPolicyId": "sp_test"}, cfg.PaymasterContext())
}

func TestWalletConfig_NoPaymaster(t *testing.T) {
	config := testConfig(t, "")
	cfg := config.WalletConfig()
	assert.Nil(t, cfg.Paymaster)
	assert.Empty(t, cfg.RPC)
}

func TestInitLogger(t *testing.T) {
	previous := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(previous) })

	InitLogger("WARN", LogFormatJSON)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	InitLogger("", LogFormatConsole)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	InitLogger("verbose", "")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
