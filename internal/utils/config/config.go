package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/dwarvesf/collateral-relayer/internal/types/environments"
)

type AppConfig struct {
	Environment      environments.Environment
	ApiServer        ApiServerConfig
	Postgres         DBConnection
	Bitcoin          BitcoinConfig
	Chain            ChainConfig
	Relayer          RelayerConfig
	Vault            VaultConfig
	UptimeWebhookURL string
}

type ApiServerConfig struct {
	Port           string
	AllowedOrigins string
}

type DBConnection struct {
	// URL takes precedence over the discrete fields when set.
	URL string

	Host string
	Port string
	User string
	Name string
	Pass string

	SSLMode string
}

type BitcoinConfig struct {
	Network                 string
	WalletWIF               string
	BlockstreamAPIURL       string
	FeeRecommendationURL    string
	MinConfirmations        int64
	DefaultFeeRate          float64
	UTXOCacheTTL            time.Duration
	BalanceSafetyMultiplier float64
	SafetyBuffer            int64
}

type ChainConfig struct {
	RPCEndpoint         string
	Network             string
	PackageID           string
	ModuleName          string
	RegistryObjectID    string
	RelayerPrivateKey   string
	GasBudget           int64
	WithdrawalEventType string
}

type RelayerConfig struct {
	ID                   string
	AttestationThreshold int
	ResetEventCursor     bool
	PollInterval         time.Duration
	MaxPollInterval      time.Duration
	MaxBackoff           time.Duration
	FailureGrace         int
	PageSize             int
	BatchSize            int
	BatchPause           time.Duration
	CursorStaleAfter     time.Duration
	PayoutInterval       time.Duration
	MaxWithdrawalSats    int64
	DedupCapacity        int
}

type VaultConfig struct {
	Addr         string
	KVSecretPath string
	Role         string
}

func New() *AppConfig {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// does not override variables already present in the environment
	_ = godotenv.Load(".env." + env)

	chainNetwork := envOr("CHAIN_NETWORK", "testnet")
	packageID := os.Getenv("CHAIN_PACKAGE_ID")
	moduleName := envOr("CHAIN_MODULE_NAME", "collateral")

	return &AppConfig{
		Environment: environments.Environment(env),
		ApiServer: ApiServerConfig{
			Port:           envOr("PORT", "3000"),
			AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		},
		Postgres: DBConnection{
			URL:     os.Getenv("DATABASE_URL"),
			Host:    os.Getenv("DB_HOST"),
			Port:    envOr("DB_PORT", "5432"),
			User:    os.Getenv("DB_USER"),
			Name:    os.Getenv("DB_NAME"),
			Pass:    os.Getenv("DB_PASS"),
			SSLMode: envOr("DB_SSL_MODE", "disable"),
		},
		Bitcoin: BitcoinConfig{
			Network:                 envOr("BTC_NETWORK", "testnet"),
			WalletWIF:               os.Getenv("BTC_WALLET_WIF"),
			BlockstreamAPIURL:       envOr("BTC_BLOCKSTREAM_API_URL", "https://blockstream.info/testnet/api"),
			FeeRecommendationURL:    envOr("BTC_FEE_RECOMMENDATION_URL", "https://mempool.space/testnet/api/v1/fees/recommended"),
			MinConfirmations:        int64(envVarAtoiOr("BTC_MIN_CONFIRMATIONS", 2)),
			DefaultFeeRate:          envVarFloatOr("BTC_DEFAULT_FEE_RATE", 10),
			UTXOCacheTTL:            envVarDurationOr("BTC_UTXO_CACHE_TTL", 60*time.Second),
			BalanceSafetyMultiplier: envVarFloatOr("BTC_BALANCE_SAFETY_MULTIPLIER", 1.2),
			SafetyBuffer:            int64(envVarAtoiOr("BTC_SAFETY_BUFFER_SATS", 1000)),
		},
		Chain: ChainConfig{
			RPCEndpoint:         envOr("CHAIN_RPC_ENDPOINT", defaultChainEndpoint(chainNetwork)),
			Network:             chainNetwork,
			PackageID:           packageID,
			ModuleName:          moduleName,
			RegistryObjectID:    os.Getenv("CHAIN_REGISTRY_OBJECT_ID"),
			RelayerPrivateKey:   os.Getenv("CHAIN_RELAYER_PRIVATE_KEY"),
			GasBudget:           int64(envVarAtoiOr("CHAIN_GAS_BUDGET", 10_000_000)),
			WithdrawalEventType: envOr("CHAIN_WITHDRAWAL_EVENT_TYPE", packageID+"::"+moduleName+"::WithdrawalRequested"),
		},
		Relayer: RelayerConfig{
			ID:                   envOr("RELAYER_ID", "relayer-1"),
			AttestationThreshold: envVarAtoiOr("WITHDRAWAL_ATTESTATION_THRESHOLD", 1),
			ResetEventCursor:     envVarAsBool("RESET_EVENT_CURSOR"),
			PollInterval:         envVarDurationOr("INGESTOR_POLL_INTERVAL", 5*time.Second),
			MaxPollInterval:      envVarDurationOr("INGESTOR_MAX_POLL_INTERVAL", 30*time.Second),
			MaxBackoff:           envVarDurationOr("INGESTOR_MAX_BACKOFF", 2*time.Minute),
			FailureGrace:         envVarAtoiOr("INGESTOR_FAILURE_GRACE", 3),
			PageSize:             envVarAtoiOr("INGESTOR_PAGE_SIZE", 50),
			BatchSize:            envVarAtoiOr("INGESTOR_BATCH_SIZE", 10),
			BatchPause:           envVarDurationOr("INGESTOR_BATCH_PAUSE", 200*time.Millisecond),
			CursorStaleAfter:     envVarDurationOr("INGESTOR_CURSOR_STALE_AFTER", 5*time.Minute),
			PayoutInterval:       envVarDurationOr("PAYOUT_INTERVAL", 30*time.Second),
			MaxWithdrawalSats:    int64(envVarAtoiOr("MAX_WITHDRAWAL_SATS", 2_100_000_000_000_000)),
			DedupCapacity:        envVarAtoiOr("DEDUP_CAPACITY", 1000),
		},
		Vault: VaultConfig{
			Addr:         os.Getenv("VAULT_ADDR"),
			KVSecretPath: os.Getenv("VAULT_KV_SECRET_PATH"),
			Role:         os.Getenv("VAULT_ROLE"),
		},
		UptimeWebhookURL: os.Getenv("UPTIME_WEBHOOK_URL"),
	}
}

// Validate reports configuration the relayer cannot start without.
func (c *AppConfig) Validate() error {
	var missing []string
	if c.Chain.RegistryObjectID == "" {
		missing = append(missing, "CHAIN_REGISTRY_OBJECT_ID")
	}
	if c.Chain.PackageID == "" {
		missing = append(missing, "CHAIN_PACKAGE_ID")
	}
	if c.Bitcoin.WalletWIF == "" {
		missing = append(missing, "BTC_WALLET_WIF")
	}
	if c.Chain.RelayerPrivateKey == "" {
		missing = append(missing, "CHAIN_RELAYER_PRIVATE_KEY")
	}
	if c.Postgres.URL == "" && c.Postgres.Host == "" {
		missing = append(missing, "DATABASE_URL or DB_HOST")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Relayer.AttestationThreshold < 1 {
		return errors.New("WITHDRAWAL_ATTESTATION_THRESHOLD must be at least 1")
	}
	if c.Bitcoin.MinConfirmations < 1 {
		return errors.New("BTC_MIN_CONFIRMATIONS must be at least 1")
	}
	switch c.Bitcoin.Network {
	case "mainnet", "testnet", "regtest", "signet":
	default:
		return errors.Errorf("unsupported BTC_NETWORK %q", c.Bitcoin.Network)
	}
	return nil
}

func defaultChainEndpoint(network string) string {
	switch network {
	case "mainnet":
		return "https://fullnode.mainnet.sui.io:443"
	case "devnet":
		return "https://fullnode.devnet.sui.io:443"
	case "localnet":
		return "http://127.0.0.1:9000"
	default:
		return "https://fullnode.testnet.sui.io:443"
	}
}

func envOr(envName, fallback string) string {
	if v := os.Getenv(envName); v != "" {
		return v
	}
	return fallback
}

func envVarAtoiOr(envName string, fallback int) int {
	valueStr := os.Getenv(envName)
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		panic(errors.Wrapf(err, "invalid %s", envName))
	}

	return value
}

func envVarFloatOr(envName string, fallback float64) float64 {
	valueStr := os.Getenv(envName)
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		panic(errors.Wrapf(err, "invalid %s", envName))
	}

	return value
}

func envVarDurationOr(envName string, fallback time.Duration) time.Duration {
	valueStr := os.Getenv(envName)
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		panic(errors.Wrapf(err, "invalid %s", envName))
	}

	return value
}

func envVarAsBool(envName string) bool {
	valueStr := os.Getenv(envName)
	return valueStr == "true"
}
