package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"molend-points/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Molend   MolendConfig   `mapstructure:"molend"`
	Subgraph SubgraphConfig `mapstructure:"subgraph"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Server   ServerConfig   `mapstructure:"server"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ChainConfig covers Mode chain RPC access.
type ChainConfig struct {
	RPCURL           string        `mapstructure:"rpc_url"`
	ChainID          int64         `mapstructure:"chain_id"`
	AverageBlockTime time.Duration `mapstructure:"average_block_time"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// MolendConfig holds the lending protocol contract addresses.
type MolendConfig struct {
	UIPoolDataProvider           string `mapstructure:"ui_pool_data_provider"`
	LendingPoolAddressesProvider string `mapstructure:"lending_pool_addresses_provider"`
	WalletBalanceProvider        string `mapstructure:"wallet_balance_provider"`
	AaveOracle                   string `mapstructure:"aave_oracle"`
}

// SubgraphConfig captures user directory connectivity.
type SubgraphConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	PageSize       int           `mapstructure:"page_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SnapshotConfig governs the snapshot engine cadence and weights.
type SnapshotConfig struct {
	StartBlock                uint64        `mapstructure:"start_block"`
	BlockInterval             uint64        `mapstructure:"block_interval"`
	DepositedPointsMultiplier float64       `mapstructure:"deposited_points_multiplier"`
	BorrowedPointsMultiplier  float64       `mapstructure:"borrowed_points_multiplier"`
	BatchSize                 int           `mapstructure:"batch_size"`
	HeadRecheckMaxBlocks      uint64        `mapstructure:"head_recheck_max_blocks"`
	RetryBackoff              time.Duration `mapstructure:"retry_backoff"`
	ResolverIdleInterval      time.Duration `mapstructure:"resolver_idle_interval"`
}

// AlertingConfig defines operational alert routing.
type AlertingConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SlackWebhook   string        `mapstructure:"slack_webhook"`
	Channel        string        `mapstructure:"channel"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ServerConfig sets the read API listener.
type ServerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MOLEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "molend-points")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("chain.chain_id", int64(34443))
	v.SetDefault("chain.average_block_time", "2s")
	v.SetDefault("chain.request_timeout", "10s")

	v.SetDefault("subgraph.page_size", 1000)
	v.SetDefault("subgraph.request_timeout", "10s")

	v.SetDefault("snapshot.block_interval", uint64(10800))
	v.SetDefault("snapshot.deposited_points_multiplier", 0.03)
	v.SetDefault("snapshot.borrowed_points_multiplier", 0.3)
	v.SetDefault("snapshot.batch_size", 10)
	v.SetDefault("snapshot.head_recheck_max_blocks", uint64(30))
	v.SetDefault("snapshot.retry_backoff", "1s")
	v.SetDefault("snapshot.resolver_idle_interval", "1m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channel", "mode-mainnet")
	v.SetDefault("alerting.request_timeout", "10s")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs startup sanity checks. Any failure here is fatal: the
// engine must not start with a partial configuration.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.AverageBlockTime <= 0 {
		return fmt.Errorf("chain.average_block_time must be greater than zero")
	}
	if c.Molend.UIPoolDataProvider == "" {
		return fmt.Errorf("molend.ui_pool_data_provider is required")
	}
	if c.Molend.LendingPoolAddressesProvider == "" {
		return fmt.Errorf("molend.lending_pool_addresses_provider is required")
	}
	if c.Molend.WalletBalanceProvider == "" {
		return fmt.Errorf("molend.wallet_balance_provider is required")
	}
	if c.Molend.AaveOracle == "" {
		return fmt.Errorf("molend.aave_oracle is required")
	}
	if c.Subgraph.APIURL == "" {
		return fmt.Errorf("subgraph.api_url is required")
	}
	if c.Subgraph.PageSize <= 0 {
		return fmt.Errorf("subgraph.page_size must be greater than zero")
	}
	if c.Snapshot.StartBlock == 0 {
		return fmt.Errorf("snapshot.start_block is required")
	}
	if c.Snapshot.BlockInterval == 0 {
		return fmt.Errorf("snapshot.block_interval must be greater than zero")
	}
	if c.Snapshot.DepositedPointsMultiplier < 0 {
		return fmt.Errorf("snapshot.deposited_points_multiplier cannot be negative")
	}
	if c.Snapshot.BorrowedPointsMultiplier < 0 {
		return fmt.Errorf("snapshot.borrowed_points_multiplier cannot be negative")
	}
	if c.Snapshot.BatchSize <= 0 {
		return fmt.Errorf("snapshot.batch_size must be greater than zero")
	}
	if c.Alerting.Enabled && c.Alerting.SlackWebhook == "" {
		return fmt.Errorf("alerting.slack_webhook is required when alerting is enabled")
	}
	return nil
}
