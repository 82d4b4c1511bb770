package app

import (
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/wallet"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StorageBadger   = "badger"
	StoragePostgres = "postgres"
)

type AppConfig struct {
	// =========================== STORAGE ===========================

	// memory, redis, badger or postgres
	StorageDriver *string
	// Required by the redis driver
	RedisAddr *string
	// Required by the badger driver
	BadgerPath *string
	// Required by the postgres driver
	DSN           *string
	MigrationPath *string

	// =========================== OPTIONAL ===========================

	Environment *string
	Host        *string
	LogLevel    *string
	LogFormat   *string
	Port        *string

	// CORS and websocket origin allow-list
	AllowOrigins *[]string

	// Guards the wallet-side routes when set
	APISecret *string

	// Chains, first one is the initial current chain
	Chains           *[]domain.Chain
	RPCURLs          map[uint64]string
	BundlerURLs      map[uint64]string
	PaymasterURLs    map[uint64]string
	PaymasterContext map[string]interface{}
	Boosted          *wallet.Boosted

	DappName      *string
	WalletName    *string
	KernelVersion *string

	// WebAuthn configuration
	RPDisplayName        *string
	RPID                 *string
	RPOrigins            *[]string
	AuthenticatorTimeout *time.Duration

	// Price and preview refresh
	PriceRefreshInterval *time.Duration
	CoingeckoURL         *string
	RefreshInterval      *time.Duration
}

func NewAppConfig() *AppConfig {
	config := &AppConfig{}

	// Load optional configuration with defaults
	loadOptionalConfig(config)

	// Load what the selected drivers require
	loadRequiredConfig(config)

	return config
}

// loadRequiredConfig fails fast when the selected storage driver misses its
// connection settings.
func loadRequiredConfig(config *AppConfig) {
	driver := strings.ToLower(getEnvWithDefault("STORAGE_DRIVER", StorageMemory))
	config.StorageDriver = &driver

	switch driver {
	case StorageMemory:
	case StorageRedis:
		redisAddr := os.Getenv("REDIS_URL")
		if redisAddr == "" {
			log.Fatalf("REQUIRED: REDIS_URL not set in environment")
		}
		config.RedisAddr = &redisAddr
	case StorageBadger:
		badgerPath := os.Getenv("BADGER_PATH")
		if badgerPath == "" {
			log.Fatalf("REQUIRED: BADGER_PATH not set in environment")
		}
		config.BadgerPath = &badgerPath
	case StoragePostgres:
		dsn := os.Getenv("DB_URL")
		if dsn == "" {
			log.Fatalf("REQUIRED: DB_URL not set in environment")
		}
		config.DSN = &dsn
	default:
		log.Fatalf("STORAGE_DRIVER %q is not one of memory, redis, badger, postgres", driver)
	}
}

// loadOptionalConfig loads all optional configuration values with sensible defaults
func loadOptionalConfig(config *AppConfig) {
	environment := getEnvWithDefault("ENVIRONMENT", "dev")
	config.Environment = &environment

	host := getEnvWithDefault("HOST", "localhost:8080")
	config.Host = &host

	// HTTP server port (default: 8080)
	port := getEnvWithDefault("PORT", "8080")
	config.Port = &port

	// Available levels: "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"
	logLevel := getEnvWithDefault("LOG_LEVEL", "debug")
	config.LogLevel = &logLevel

	// console or json (default: json outside dev)
	defaultFormat := LogFormatJSON
	if environment == "dev" || environment == "development" {
		defaultFormat = LogFormatConsole
	}
	logFormat := strings.ToLower(getEnvWithDefault("LOG_FORMAT", defaultFormat))
	config.LogFormat = &logFormat

	// Migration path (default: file://migrations)
	migrationPath := getEnvWithDefault("MIGRATION_PATH", "file://migrations")
	config.MigrationPath = &migrationPath

	apiSecret := os.Getenv("API_SECRET")
	config.APISecret = &apiSecret

	dappName := getEnvWithDefault("DAPP_NAME", wallet.DefaultDappName)
	config.DappName = &dappName
	walletName := getEnvWithDefault("WALLET_NAME", wallet.DefaultWalletName)
	config.WalletName = &walletName
	kernelVersion := os.Getenv("KERNEL_VERSION")
	config.KernelVersion = &kernelVersion

	coingeckoURL := os.Getenv("COINGECKO_URL")
	config.CoingeckoURL = &coingeckoURL
	priceRefresh := getDuration("PRICE_REFRESH_INTERVAL", 5*time.Minute)
	config.PriceRefreshInterval = &priceRefresh
	refresh := getDuration("USEROP_REFRESH_INTERVAL", 15*time.Second)
	config.RefreshInterval = &refresh

	loadCORSConfig(config)
	loadWebAuthnConfig(config)
	loadChainConfig(config)
}

// loadCORSConfig handles CORS origins configuration with environment-specific behavior
func loadCORSConfig(config *AppConfig) {
	allowOrigins := splitList(os.Getenv("ALLOW_ORIGINS"))
	if len(allowOrigins) == 0 {
		if *config.Environment == "development" || *config.Environment == "dev" {
			// Default to localhost in development
			allowOrigins = []string{"http://localhost:5173"}
		} else {
			log.Fatalf("REQUIRED: ALLOW_ORIGINS not set in environment (required in production)")
		}
	}
	config.AllowOrigins = &allowOrigins
}

// loadWebAuthnConfig loads WebAuthn configuration with sensible defaults
func loadWebAuthnConfig(config *AppConfig) {
	rpDisplayName := getEnvWithDefault("WEBAUTHN_RP_DISPLAY_NAME", *config.WalletName)
	config.RPDisplayName = &rpDisplayName

	rpID := getEnvWithDefault("WEBAUTHN_RP_ID", "localhost")
	config.RPID = &rpID

	origins := splitList(os.Getenv("WEBAUTHN_RP_ORIGINS"))
	if len(origins) == 0 {
		// Default to localhost with the configured port
		origins = []string{"http://localhost:" + *config.Port}
	}
	config.RPOrigins = &origins

	timeout := getDuration("AUTHENTICATOR_TIMEOUT", 5*time.Minute)
	config.AuthenticatorTimeout = &timeout
}

// loadChainConfig reads the chain allow-list and the per-chain transports.
func loadChainConfig(config *AppConfig) {
	var chains []domain.Chain
	for _, raw := range splitList(getEnvWithDefault("CHAINS", "84532,11155111")) {
		id, err := parseChainID(raw)
		if err != nil {
			log.Fatalf("CHAINS: %v", err)
		}
		chain, ok := domain.BuiltinChain(id)
		if !ok {
			log.Fatalf("CHAINS: chain %d is not supported", id)
		}
		chains = append(chains, chain)
	}
	config.Chains = &chains

	config.RPCURLs = map[uint64]string{}
	config.BundlerURLs = map[uint64]string{}
	config.PaymasterURLs = map[uint64]string{}
	for _, chain := range chains {
		if url := os.Getenv(fmt.Sprintf("RPC_URL_%d", chain.ID)); url != "" {
			config.RPCURLs[chain.ID] = url
		}
		if url := os.Getenv(fmt.Sprintf("BUNDLER_URL_%d", chain.ID)); url != "" {
			config.BundlerURLs[chain.ID] = url
		}
		if url := os.Getenv(fmt.Sprintf("PAYMASTER_URL_%d", chain.ID)); url != "" {
			config.PaymasterURLs[chain.ID] = url
		}
	}

	if raw := os.Getenv("PAYMASTER_CONTEXT"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &config.PaymasterContext); err != nil {
			log.Fatalf("PAYMASTER_CONTEXT is not a JSON object: %v", err)
		}
	}

	boosted, err := parseBoosted(os.Getenv("BOOSTED"))
	if err != nil {
		log.Fatalf("BOOSTED: %v", err)
	}
	config.Boosted = boosted
}

// WalletConfig builds the wallet instance config.
func (c AppConfig) WalletConfig() wallet.Config {
	cfg := wallet.Config{
		DappName:      *c.DappName,
		WalletName:    *c.WalletName,
		Chains:        *c.Chains,
		RPC:           transports(c.RPCURLs),
		Bundler:       transports(c.BundlerURLs),
		Boosted:       c.Boosted,
		KernelVersion: *c.KernelVersion,
	}
	if len(c.PaymasterURLs) > 0 {
		cfg.Paymaster = &wallet.PaymasterConfig{
			Transports: transports(c.PaymasterURLs),
			Context:    c.PaymasterContext,
		}
	}
	return cfg
}

func transports(urls map[uint64]string) map[uint64]wallet.Transport {
	out := make(map[uint64]wallet.Transport, len(urls))
	for id, url := range urls {
		out[id] = wallet.Transport{URL: url}
	}
	return out
}

// parseChainID accepts decimal or 0x-prefixed hex.
func parseChainID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q", raw)
	}
	return id, nil
}

// parseBoosted reads "", "false", "true" or
// "callGasLimit,verificationGasLimit,preVerificationGas".
func parseBoosted(raw string) (*wallet.Boosted, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "false":
		return nil, nil
	case "true":
		return &wallet.Boosted{}, nil
	}
	parts := splitList(raw)
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected true, false or three gas limits, got %q", raw)
	}
	limits := make([]*big.Int, 3)
	for i, part := range parts {
		n, ok := new(big.Int).SetString(part, 0)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("invalid gas limit %q", part)
		}
		limits[i] = n
	}
	return &wallet.Boosted{
		CallGasLimit:         limits[0],
		VerificationGasLimit: limits[1],
		PreVerificationGas:   limits[2],
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	// bare numbers are seconds
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	log.Printf("Warning: Invalid %s value '%s', using default %s", key, raw, defaultValue)
	return defaultValue
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
