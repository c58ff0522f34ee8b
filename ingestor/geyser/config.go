package geyser

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rexbrahh/amm-arb/pool"
)

const (
	envEndpoint   = "ARB_GEYSER_ENDPOINT"
	envAPIKey     = "ARB_GEYSER_API_KEY"
	envCommitment = "ARB_GEYSER_COMMITMENT"

	defaultReconnectBackoff = 5 * time.Second
)

// Config holds Geyser client configuration
type Config struct {
	// Endpoint is the Geyser gRPC endpoint (e.g., "grpc.chainstack.com:443")
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent as the x-token header
	APIKey string `yaml:"api_key"`

	// Commitment is processed, confirmed or finalized
	Commitment string `yaml:"commitment"`

	// ReconnectBackoff is the delay between reconnect attempts
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	Filter Filter `yaml:",inline"`
}

// Filter selects the accounts a subscription streams. Programs subscribes to
// every account owned by a venue program; Accounts pins explicit pools.
type Filter struct {
	Programs map[string]string `yaml:"programs"`
	Accounts []string          `yaml:"accounts"`
}

// DefaultFilter subscribes to every supported venue program.
func DefaultFilter() Filter {
	programs := make(map[string]string)
	for _, v := range []pool.Venue{pool.VenueRaydiumAMM, pool.VenueOrcaWhirlpool, pool.VenueSerum} {
		programs[v.String()] = v.ProgramID()
	}
	return Filter{Programs: programs}
}

// Validate checks every program and account is a valid address.
func (f Filter) Validate() error {
	var problems []string
	if len(f.Programs) == 0 && len(f.Accounts) == 0 {
		problems = append(problems, "at least one program or account filter is required")
	}
	for name, programID := range f.Programs {
		if _, err := pool.ParseAddress(programID); err != nil {
			problems = append(problems, fmt.Sprintf("program filter '%s': %v", name, err))
		}
	}
	for _, acct := range f.Accounts {
		if _, err := pool.ParseAddress(acct); err != nil {
			problems = append(problems, fmt.Sprintf("account filter '%s': %v", acct, err))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid filter:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// LoadConfig loads configuration from environment variables and an optional
// filter YAML file. Without a file the default venue filter is used.
func LoadConfig(filterYAMLPath string) (*Config, error) {
	cfg := &Config{
		Endpoint:         os.Getenv(envEndpoint),
		APIKey:           os.Getenv(envAPIKey),
		Commitment:       os.Getenv(envCommitment),
		ReconnectBackoff: defaultReconnectBackoff,
		Filter:           DefaultFilter(),
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}

	if filterYAMLPath != "" {
		filter, err := loadFilter(filterYAMLPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load filter: %w", err)
		}
		cfg.Filter = filter
	}

	return cfg, nil
}

func loadFilter(path string) (Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Filter{}, fmt.Errorf("failed to read filter file: %w", err)
	}
	var filter Filter
	if err := yaml.Unmarshal(data, &filter); err != nil {
		return Filter{}, fmt.Errorf("failed to parse filter YAML: %w", err)
	}
	return filter, nil
}

// Validate checks that required configuration fields are set
func (c *Config) Validate() error {
	var problems []string

	if c.Endpoint == "" {
		problems = append(problems, envEndpoint+" is required")
	}
	if c.APIKey == "" {
		problems = append(problems, envAPIKey+" is required")
	}
	if _, err := commitmentLevel(c.Commitment); err != nil {
		problems = append(problems, err.Error())
	}
	if c.ReconnectBackoff <= 0 {
		problems = append(problems, "reconnect backoff must be positive")
	}
	if err := c.Filter.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// String returns a sanitized string representation of the config
func (c *Config) String() string {
	programs := make([]string, 0, len(c.Filter.Programs))
	for name, id := range c.Filter.Programs {
		programs = append(programs, fmt.Sprintf("%s=%s", name, id))
	}
	sort.Strings(programs)

	return fmt.Sprintf("Config{Endpoint=%s, APIKey=%s, Commitment=%s, Programs=[%s], Accounts=%d}",
		c.Endpoint, maskKey(c.APIKey), c.Commitment, strings.Join(programs, ", "), len(c.Filter.Accounts))
}

func maskKey(key string) string {
	if len(key) > 8 {
		return key[:4] + "****" + key[len(key)-4:]
	}
	if key != "" {
		return "****"
	}
	return ""
}
