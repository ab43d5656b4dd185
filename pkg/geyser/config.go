package geyser

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
)

// Default configuration values.
const (
	// DefaultKeepaliveTime is the default interval for HTTP/2 keepalive pings.
	DefaultKeepaliveTime = 10 * time.Second

	// DefaultKeepaliveTimeout is the default timeout for keepalive responses.
	DefaultKeepaliveTimeout = 5 * time.Second

	// DefaultMaxMessageSize is the default maximum gRPC message size (1GB).
	// Account data and batched updates can be large.
	DefaultMaxMessageSize = 1024 * 1024 * 1024

	// DefaultPingInterval is the interval between Subscribe-level pings.
	// Providers tear down streams that stay idle for longer than about a minute.
	DefaultPingInterval = 30 * time.Second

	// DefaultAuthHeader is the metadata key carrying the token.
	DefaultAuthHeader = "x-token"
)

// Supported stream compression names.
const (
	CompressionNone = ""
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// Configuration errors.
var (
	ErrNoEndpoint    = errors.New("geyser endpoint is required")
	ErrInvalidConfig = errors.New("invalid geyser configuration")
)

// Config holds the configuration for the Geyser transport and session.
type Config struct {
	// Endpoint is the gRPC endpoint. Either a URL such as
	// "https://api.rpcpool.com:443" or a raw gRPC target ("host:port").
	// Required.
	Endpoint string

	// Token is the authentication token for the gRPC service.
	// Can use environment variable expansion with ${VAR_NAME}.
	Token string

	// AuthHeader is the metadata key used for Token. Defaults to x-token.
	AuthHeader string

	// UseTLS enables TLS for raw targets. URL endpoints pick TLS from
	// their scheme instead.
	UseTLS bool

	// Keepalive configuration for the HTTP/2 transport.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// PingInterval is the heartbeat period for Subscribe-level pings.
	PingInterval time.Duration

	// Compression selects a gRPC compressor for the stream: "", "gzip" or "zstd".
	Compression string

	// Headers are additional metadata sent with the Subscribe call.
	Headers map[string]string

	// DialOptions are appended to the options built from this config.
	DialOptions []grpc.DialOption
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		UseTLS:           true,
		AuthHeader:       DefaultAuthHeader,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		MaxMessageSize:   DefaultMaxMessageSize,
		PingInterval:     DefaultPingInterval,
		Headers:          make(map[string]string),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}

	if c.KeepaliveTime <= 0 {
		return fmt.Errorf("%w: keepalive time must be positive", ErrInvalidConfig)
	}

	if c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("%w: keepalive timeout must be positive", ErrInvalidConfig)
	}

	if c.PingInterval <= 0 {
		return fmt.Errorf("%w: ping interval must be positive", ErrInvalidConfig)
	}

	switch c.Compression {
	case CompressionNone, CompressionGzip, CompressionZstd:
	default:
		return fmt.Errorf("%w: unsupported compression %q", ErrInvalidConfig, c.Compression)
	}

	if _, _, err := c.Target(); err != nil {
		return err
	}

	return nil
}

// WithDefaults returns a new config with default values applied for any
// zero values in the original config.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.AuthHeader == "" {
		c.AuthHeader = defaults.AuthHeader
	}
	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = defaults.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaults.PingInterval
	}
	if c.Headers == nil {
		c.Headers = defaults.Headers
	}

	return c
}

// Target returns the gRPC dial target and whether TLS must be used.
//
// "https://host[:port]" dials host:port (port 443 if omitted) over TLS,
// "http://host[:port]" dials in plaintext (port 80 if omitted), and any
// other endpoint is handed to gRPC verbatim with UseTLS deciding.
func (c *Config) Target() (string, bool, error) {
	if rest, ok := strings.CutPrefix(c.Endpoint, "https://"); ok {
		host, err := hostPort(rest, "443")
		return host, true, err
	}
	if rest, ok := strings.CutPrefix(c.Endpoint, "http://"); ok {
		host, err := hostPort(rest, "80")
		return host, false, err
	}
	return c.Endpoint, c.UseTLS, nil
}

// hostPort strips any path from a URL remainder and fills in a default port.
func hostPort(rest, defaultPort string) (string, error) {
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "", fmt.Errorf("%w: endpoint has no host", ErrInvalidConfig)
	}
	if _, _, err := net.SplitHostPort(rest); err == nil {
		return rest, nil
	}
	return net.JoinHostPort(rest, defaultPort), nil
}

// ExpandedToken returns the token with environment variable expansion.
// Supports ${VAR_NAME} syntax.
func (c *Config) ExpandedToken() string {
	return expandEnvVars(c.Token)
}

// expandEnvVars expands ${VAR} references in a string. A bare '$' is left
// alone since tokens may legitimately contain one.
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := result[start+2 : end]
		result = result[:start] + os.Getenv(varName) + result[end+1:]
	}
	return result
}

// ConfigBuilder provides a fluent interface for building Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder creates a new ConfigBuilder with default values.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: DefaultConfig(),
	}
}

// Endpoint sets the gRPC endpoint.
func (b *ConfigBuilder) Endpoint(endpoint string) *ConfigBuilder {
	b.config.Endpoint = endpoint
	return b
}

// Token sets the authentication token.
func (b *ConfigBuilder) Token(token string) *ConfigBuilder {
	b.config.Token = token
	return b
}

// AuthHeader sets the metadata key carrying the token.
func (b *ConfigBuilder) AuthHeader(header string) *ConfigBuilder {
	b.config.AuthHeader = header
	return b
}

// UseTLS enables or disables TLS for raw targets.
func (b *ConfigBuilder) UseTLS(useTLS bool) *ConfigBuilder {
	b.config.UseTLS = useTLS
	return b
}

// PingInterval sets the heartbeat period.
func (b *ConfigBuilder) PingInterval(d time.Duration) *ConfigBuilder {
	b.config.PingInterval = d
	return b
}

// Compression sets the stream compressor.
func (b *ConfigBuilder) Compression(name string) *ConfigBuilder {
	b.config.Compression = name
	return b
}

// MaxMessageSize sets the maximum gRPC message size.
func (b *ConfigBuilder) MaxMessageSize(size int) *ConfigBuilder {
	b.config.MaxMessageSize = size
	return b
}

// Header adds a custom header.
func (b *ConfigBuilder) Header(key, value string) *ConfigBuilder {
	if b.config.Headers == nil {
		b.config.Headers = make(map[string]string)
	}
	b.config.Headers[key] = value
	return b
}

// DialOption appends a raw gRPC dial option.
func (b *ConfigBuilder) DialOption(opt grpc.DialOption) *ConfigBuilder {
	b.config.DialOptions = append(b.config.DialOptions, opt)
	return b
}

// Build validates and returns the Config.
func (b *ConfigBuilder) Build() (Config, error) {
	cfg := b.config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustBuild validates and returns the Config, panicking on error.
func (b *ConfigBuilder) MustBuild() Config {
	cfg, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("invalid geyser config: %v", err))
	}
	return cfg
}

// ProviderConfig contains provider-specific configuration presets.
type ProviderConfig struct {
	// Name is the provider name for logging.
	Name string

	// AuthHeader is the header name for authentication (e.g., "x-token").
	AuthHeader string

	// UseTLS indicates if the provider requires TLS.
	UseTLS bool
}

// Common provider presets.
var (
	// TritonProvider is the configuration preset for Triton One (Dragon's Mouth).
	TritonProvider = ProviderConfig{
		Name:       "triton",
		AuthHeader: "x-token",
		UseTLS:     true,
	}

	// HeliusProvider is the configuration preset for Helius.
	HeliusProvider = ProviderConfig{
		Name:       "helius",
		AuthHeader: "x-token",
		UseTLS:     true,
	}

	// QuickNodeProvider is the configuration preset for QuickNode.
	QuickNodeProvider = ProviderConfig{
		Name:       "quicknode",
		AuthHeader: "x-token",
		UseTLS:     true,
	}

	// ChainstackProvider is the configuration preset for Chainstack.
	ChainstackProvider = ProviderConfig{
		Name:       "chainstack",
		AuthHeader: "authorization",
		UseTLS:     true,
	}
)

// Providers maps preset names to presets.
var Providers = map[string]ProviderConfig{
	TritonProvider.Name:     TritonProvider,
	HeliusProvider.Name:     HeliusProvider,
	QuickNodeProvider.Name:  QuickNodeProvider,
	ChainstackProvider.Name: ChainstackProvider,
}

// ApplyProvider applies a provider preset to a config builder.
func (b *ConfigBuilder) ApplyProvider(provider ProviderConfig, endpoint, token string) *ConfigBuilder {
	b.config.Endpoint = endpoint
	b.config.Token = token
	b.config.UseTLS = provider.UseTLS
	if provider.AuthHeader != "" {
		b.config.AuthHeader = provider.AuthHeader
	}
	return b
}
