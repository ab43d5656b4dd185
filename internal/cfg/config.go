package cfg

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fortiblox/geyserwatch/internal/types"
	"github.com/fortiblox/geyserwatch/pkg/geyser"
	"github.com/rs/zerolog/log"
)

type AccountFilterConfiguration struct {
	Account []string `toml:"account"`
	Owner   []string `toml:"owner"`
}

type TransactionFilterConfiguration struct {
	Vote   *bool `toml:"vote"`
	Failed *bool `toml:"failed"`
}

type SubscriptionConfiguration struct {
	Commitment   string                           `toml:"commitment"` // processed, confirmed, finalized or empty
	Slots        bool                             `toml:"slots"`
	Accounts     []AccountFilterConfiguration     `toml:"accounts"`
	Transactions []TransactionFilterConfiguration `toml:"transactions"`
}

type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

type MetricsConfiguration struct {
	Address string `toml:"address"` // empty disables /metrics
}

type Configuration struct {
	Endpoint            string            `toml:"endpoint"`
	Token               string            `toml:"token"` // supports ${VAR}
	Provider            string            `toml:"provider"`
	AuthHeader          string            `toml:"auth_header"`
	PingIntervalSeconds int               `toml:"ping_interval_seconds"`
	Compression         string            `toml:"compression"`
	MaxMessageSize      int               `toml:"max_message_size"`
	Headers             map[string]string `toml:"headers"`

	Subscription SubscriptionConfiguration `toml:"subscription"`
	Logging      LoggingConfiguration      `toml:"logging"`
	Metrics      MetricsConfiguration      `toml:"metrics"`
}

// Command line flags
var (
	ConfigPathFlag   = flag.String("config", "geyserwatch.toml", "Path to configuration file")
	EndpointFlag     = flag.String("endpoint", "", "Geyser gRPC endpoint (overrides config)")
	TokenFlag        = flag.String("token", "", "Authentication token (overrides config)")
	PingIntervalFlag = flag.Int("ping-interval", 0, "Heartbeat period in seconds (overrides config)")
	VerboseFlag      = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

const usdcTokenVault = "9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT"

// Default returns the built-in configuration: the public rpcpool endpoint,
// one account filter on a USDC token vault, non-vote successful
// transactions, slots, and confirmed commitment.
func Default() *Configuration {
	no := false
	return &Configuration{
		Endpoint:            "https://api.rpcpool.com:443",
		Token:               "token",
		PingIntervalSeconds: 30,
		Headers:             map[string]string{},
		Subscription: SubscriptionConfiguration{
			Commitment: "confirmed",
			Slots:      true,
			Accounts: []AccountFilterConfiguration{
				{Account: []string{usdcTokenVault}},
			},
			Transactions: []TransactionFilterConfiguration{
				{Vote: &no, Failed: &no},
			},
		},
		Logging: LoggingConfiguration{
			Format: "console",
		},
	}
}

var Config = Default()

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if err := decodeFile(configPath, Config); err != nil {
				return err
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *EndpointFlag != "" {
		Config.Endpoint = *EndpointFlag
	}
	if *TokenFlag != "" {
		Config.Token = *TokenFlag
	}
	if *PingIntervalFlag != 0 {
		Config.PingIntervalSeconds = *PingIntervalFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	return nil
}

// decodeFile decodes path over c. Filter lists in the file replace the
// defaults rather than merging into them element by element.
func decodeFile(path string, c *Configuration) error {
	accounts, transactions := c.Subscription.Accounts, c.Subscription.Transactions
	c.Subscription.Accounts, c.Subscription.Transactions = nil, nil

	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	if !md.IsDefined("subscription", "accounts") {
		c.Subscription.Accounts = accounts
	}
	if !md.IsDefined("subscription", "transactions") {
		c.Subscription.Transactions = transactions
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Warn().Interface("keys", undecoded).Msg("Unknown configuration keys ignored")
	}
	return nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.PingIntervalSeconds < 1 {
		return fmt.Errorf("ping interval must be >= 1 second, got %d", Config.PingIntervalSeconds)
	}

	if Config.Provider != "" {
		if _, ok := geyser.Providers[Config.Provider]; !ok {
			return fmt.Errorf("unknown provider %q", Config.Provider)
		}
	}

	switch Config.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid logging format %q", Config.Logging.Format)
	}

	if _, err := Filters(); err != nil {
		return err
	}

	_, err := GeyserConfig()
	return err
}

// GeyserConfig translates the loaded configuration into a validated client
// config. A named provider supplies the auth header and TLS preset, and an
// explicit auth_header wins over both.
func GeyserConfig() (geyser.Config, error) {
	b := geyser.NewConfigBuilder()
	if p, ok := geyser.Providers[Config.Provider]; ok {
		b.ApplyProvider(p, Config.Endpoint, Config.Token)
	} else {
		b.Endpoint(Config.Endpoint).Token(Config.Token)
	}
	if Config.AuthHeader != "" {
		b.AuthHeader(Config.AuthHeader)
	}

	b.PingInterval(time.Duration(Config.PingIntervalSeconds) * time.Second).
		Compression(Config.Compression)
	if Config.MaxMessageSize > 0 {
		b.MaxMessageSize(Config.MaxMessageSize)
	}
	for k, v := range Config.Headers {
		b.Header(k, v)
	}

	return b.Build()
}

// Filters translates the [subscription] section.
func Filters() (geyser.Filters, error) {
	sub := Config.Subscription
	f := geyser.Filters{Slots: sub.Slots}

	if sub.Commitment != "" {
		c, err := geyser.ParseCommitment(sub.Commitment)
		if err != nil {
			return geyser.Filters{}, err
		}
		f.Commitment = &c
	}

	for i, a := range sub.Accounts {
		for _, addr := range append(append([]string(nil), a.Account...), a.Owner...) {
			if _, err := types.PubkeyFromBase58(addr); err != nil {
				return geyser.Filters{}, fmt.Errorf("subscription.accounts[%d]: %q: %w", i, addr, err)
			}
		}
		f.Accounts = append(f.Accounts, geyser.AccountFilter{Account: a.Account, Owner: a.Owner})
	}
	for _, t := range sub.Transactions {
		f.Transactions = append(f.Transactions, geyser.TransactionFilter{Vote: t.Vote, Failed: t.Failed})
	}

	return f, nil
}
