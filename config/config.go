package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is loaded once at startup and handed to every component that needs it.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chain     ChainConfig
	Issuance  IssuanceConfig
	Staking   StakingConfig
	Redis     RedisConfig
	Archive   ArchiveConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port           string
	ServiceToken   string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Driver string // postgres, mysql or sqlite
	DSN    string
}

type ChainConfig struct {
	Network         string // sepolia or mainnet
	RPCURL          string
	ChainID         int64
	ExplorerURL     string
	BadgeContract   string
	StakingContract string
	TreasuryKey     string
	MintTimeout     time.Duration
	ReceiptTimeout  time.Duration
	Simulate        bool
	SimulateLatency time.Duration
}

type IssuanceConfig struct {
	Brand        string
	Platform     string
	NetworkLabel string
	DefaultImage string
}

type StakingConfig struct {
	// DailyYields holds whole reward tokens per day for tiers 1..4.
	DailyYields   []int64
	TokenDecimals int32
	TokenSymbol   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type ArchiveConfig struct {
	Backend string // none, r2 or ipfs

	R2AccountID string
	R2AccessKey string
	R2SecretKey string
	R2Bucket    string
	CDNBaseURL  string

	IPFSAPI     string
	IPFSGateway string
}

type SyncConfig struct {
	ServiceURL   string
	PollInterval time.Duration
}

type SchedulerConfig struct {
	ReconcileInterval time.Duration
	UpgradeInterval   time.Duration
	StallThreshold    time.Duration
	UpgradeBatch      int
}

var networks = map[string]struct {
	chainID  int64
	rpcURL   string
	explorer string
	label    string
}{
	"sepolia": {5003, "https://rpc.sepolia.mantle.xyz", "https://sepolia.mantlescan.xyz", "Mantle Sepolia"},
	"mainnet": {5000, "https://rpc.mantle.xyz", "https://mantlescan.xyz", "Mantle"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "5200")
	v.SetDefault("allowed_origins", "http://localhost:3000")

	v.SetDefault("database_driver", "postgres")

	v.SetDefault("chain_network", "sepolia")
	v.SetDefault("mint_timeout", "45s")
	v.SetDefault("receipt_timeout", "2m")
	v.SetDefault("chain_simulate", false)
	v.SetDefault("chain_simulate_latency", "0s")

	v.SetDefault("badge_brand", "PROVELT")
	v.SetDefault("badge_platform", "PROVELT")
	v.SetDefault("badge_default_image", "https://provelt.app/badge-default.png")

	v.SetDefault("staking_daily_yields", "1,3,5,10")
	v.SetDefault("reward_token_decimals", 18)
	v.SetDefault("reward_token_symbol", "PRVLT")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("decision_lock_ttl", "2m")

	v.SetDefault("archive_backend", "none")
	v.SetDefault("ipfs_gateway", "https://ipfs.io/ipfs/")

	v.SetDefault("wallet_poll_interval", "10s")

	v.SetDefault("reconcile_interval", "1h")
	v.SetDefault("upgrade_interval", "5m")
	v.SetDefault("stall_threshold", "10m")
	v.SetDefault("upgrade_batch", 25)
}

// Load reads .env (if present) and the process environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	network := strings.ToLower(v.GetString("chain_network"))
	net, ok := networks[network]
	if !ok {
		return nil, fmt.Errorf("unknown CHAIN_NETWORK %q", network)
	}

	rpcURL := v.GetString("chain_rpc_url")
	if rpcURL == "" {
		rpcURL = net.rpcURL
	}
	chainID := v.GetInt64("chain_id")
	if chainID == 0 {
		chainID = net.chainID
	}
	label := v.GetString("badge_network_label")
	if label == "" {
		label = net.label
	}

	yields, err := parseYields(v.GetString("staking_daily_yields"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("port"),
			ServiceToken:   v.GetString("service_token"),
			AllowedOrigins: splitList(v.GetString("allowed_origins")),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database_driver")),
			DSN:    v.GetString("database_url"),
		},
		Chain: ChainConfig{
			Network:         network,
			RPCURL:          rpcURL,
			ChainID:         chainID,
			ExplorerURL:     net.explorer,
			BadgeContract:   v.GetString("badge_contract_address"),
			StakingContract: v.GetString("staking_contract_address"),
			TreasuryKey:     v.GetString("treasury_private_key"),
			MintTimeout:     v.GetDuration("mint_timeout"),
			ReceiptTimeout:  v.GetDuration("receipt_timeout"),
			Simulate:        v.GetBool("chain_simulate"),
			SimulateLatency: v.GetDuration("chain_simulate_latency"),
		},
		Issuance: IssuanceConfig{
			Brand:        v.GetString("badge_brand"),
			Platform:     v.GetString("badge_platform"),
			NetworkLabel: label,
			DefaultImage: v.GetString("badge_default_image"),
		},
		Staking: StakingConfig{
			DailyYields:   yields,
			TokenDecimals: v.GetInt32("reward_token_decimals"),
			TokenSymbol:   v.GetString("reward_token_symbol"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
			LockTTL:  v.GetDuration("decision_lock_ttl"),
		},
		Archive: ArchiveConfig{
			Backend:     strings.ToLower(v.GetString("archive_backend")),
			R2AccountID: v.GetString("cloudflare_account_id"),
			R2AccessKey: v.GetString("r2_access_key_id"),
			R2SecretKey: v.GetString("r2_access_key_secret"),
			R2Bucket:    v.GetString("r2_bucket_name"),
			CDNBaseURL:  v.GetString("cdn_base_url"),
			IPFSAPI:     v.GetString("ipfs_api"),
			IPFSGateway: v.GetString("ipfs_gateway"),
		},
		Sync: SyncConfig{
			ServiceURL:   v.GetString("sync_service_url"),
			PollInterval: v.GetDuration("wallet_poll_interval"),
		},
		Scheduler: SchedulerConfig{
			ReconcileInterval: v.GetDuration("reconcile_interval"),
			UpgradeInterval:   v.GetDuration("upgrade_interval"),
			StallThreshold:    v.GetDuration("stall_threshold"),
			UpgradeBatch:      v.GetInt("upgrade_batch"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	switch c.Archive.Backend {
	case "none", "r2", "ipfs":
	default:
		return fmt.Errorf("unsupported ARCHIVE_BACKEND %q", c.Archive.Backend)
	}
	if c.Chain.MintTimeout <= 0 {
		return fmt.Errorf("MINT_TIMEOUT must be positive")
	}
	return nil
}

// MintingConfigured reports whether real on-chain minting can be attempted.
func (c ChainConfig) MintingConfigured() bool {
	return c.RPCURL != "" && c.BadgeContract != "" && c.TreasuryKey != ""
}

// ExplorerTxURL returns the block explorer link for a transaction hash.
func (c ChainConfig) ExplorerTxURL(hash string) string {
	return fmt.Sprintf("%s/tx/%s", c.ExplorerURL, hash)
}

func parseYields(raw string) ([]int64, error) {
	parts := splitList(raw)
	if len(parts) != 4 {
		return nil, fmt.Errorf("STAKING_DAILY_YIELDS needs 4 values (easy,medium,hard,expert), got %d", len(parts))
	}
	out := make([]int64, 0, 4)
	for _, p := range parts {
		var n int64
		if _, err := fmt.Sscan(p, &n); err != nil || n < 0 {
			return nil, fmt.Errorf("invalid daily yield %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
