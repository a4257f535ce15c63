package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFinalityDepth     = 12
	DefaultEventPollInterval = 15000
	DefaultDBPath            = "event-watcher.db"
)

// Config holds the YAML configuration.
type Config struct {
	Version       int            `yaml:"version"`
	Global        GlobalConfig   `yaml:"global"`
	Chain         Chain          `yaml:"chain"`
	Subscriptions []Subscription `yaml:"subscriptions"`
	Sinks         []Sink         `yaml:"sinks"`
}

type GlobalConfig struct {
	Store         string `yaml:"store"`
	DBPath        string `yaml:"db_path"`
	RedisURL      string `yaml:"redis_url"`
	FinalityDepth *int64 `yaml:"finality_depth"`
	// EventPollInterval is in milliseconds.
	EventPollInterval int64 `yaml:"event_poll_interval"`
}

type Chain struct {
	RPCURL   string   `yaml:"rpc_url"`
	Contract string   `yaml:"contract"`
	DeployTx string   `yaml:"deploy_tx"`
	ABIDirs  []string `yaml:"abi_dirs"`
}

type Dedupe struct {
	Key string `yaml:"key"`
	TTL string `yaml:"ttl"`
}

type RateLimit struct {
	Capacity  float64 `yaml:"capacity"`
	PerSecond float64 `yaml:"per_second"`
}

type Subscription struct {
	ID        string     `yaml:"id"`
	Event     string     `yaml:"event"`
	Decode    string     `yaml:"decode"`
	Where     []string   `yaml:"where"`
	Sinks     []string   `yaml:"sinks"`
	RateLimit *RateLimit `yaml:"rate_limit,omitempty"`
	Dedupe    *Dedupe    `yaml:"dedupe,omitempty"`
}

type Sink struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies defaults and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// ApplyDefaults fills unset global options.
func (c *Config) ApplyDefaults() {
	c.Global.Store = strings.ToLower(c.Global.Store)
	if c.Global.Store == "" {
		c.Global.Store = "sqlite"
	}
	if c.Global.DBPath == "" {
		c.Global.DBPath = DefaultDBPath
	}
	if c.Global.FinalityDepth == nil {
		d := int64(DefaultFinalityDepth)
		c.Global.FinalityDepth = &d
	}
	if c.Global.EventPollInterval == 0 {
		c.Global.EventPollInterval = DefaultEventPollInterval
	}
	for i := range c.Sinks {
		c.Sinks[i].Type = strings.ToLower(c.Sinks[i].Type)
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Method == "" {
			c.Sinks[i].Method = "POST"
		}
	}
}

// Finality returns the configured depth, or the default when unset.
func (g GlobalConfig) Finality() int64 {
	if g.FinalityDepth == nil {
		return DefaultFinalityDepth
	}
	return *g.FinalityDepth
}

// PollInterval returns the poll interval as a duration.
func (g GlobalConfig) PollInterval() time.Duration {
	if g.EventPollInterval <= 0 {
		return DefaultEventPollInterval * time.Millisecond
	}
	return time.Duration(g.EventPollInterval) * time.Millisecond
}

// Events returns the distinct event names across subscriptions, in config order.
func (c *Config) Events() []string {
	names := make([]string, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		names = append(names, s.Event)
	}
	return dedup(names)
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if err := c.Global.Validate(); err != nil {
		return fmt.Errorf("global: %w", err)
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if len(c.Subscriptions) == 0 {
		return errors.New("at least one subscription is required")
	}

	sinkIDs := map[string]*Sink{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = s
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}

	subIDs := map[string]struct{}{}
	for _, s := range c.Subscriptions {
		if _, exists := subIDs[s.ID]; exists {
			return fmt.Errorf("duplicate subscription id: %s", s.ID)
		}
		subIDs[s.ID] = struct{}{}
		if err := s.Validate(sinkIDs); err != nil {
			return fmt.Errorf("subscription %s: %w", s.ID, err)
		}
	}

	return nil
}

func (g *GlobalConfig) Validate() error {
	switch strings.ToLower(g.Store) {
	case "sqlite":
		if g.DBPath == "" {
			return errors.New("db_path is required for sqlite store")
		}
	case "redis":
		if g.RedisURL == "" {
			return errors.New("redis_url is required for redis store")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported store: %s", g.Store)
	}
	if g.FinalityDepth != nil && *g.FinalityDepth < 0 {
		return errors.New("finality_depth must not be negative")
	}
	if g.EventPollInterval < 0 {
		return errors.New("event_poll_interval must not be negative")
	}
	return nil
}

func (c *Chain) Validate() error {
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if c.Contract == "" && c.DeployTx == "" {
		return errors.New("contract or deploy_tx is required")
	}
	if c.Contract != "" && !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("invalid contract address: %s", c.Contract)
	}
	return nil
}

func (s *Subscription) Validate(sinkIDs map[string]*Sink) error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Event == "" {
		return errors.New("event is required")
	}
	switch strings.ToLower(s.Decode) {
	case "", "canonical", "chain_created":
	default:
		return fmt.Errorf("unsupported decode: %s", s.Decode)
	}
	for _, sinkID := range s.Sinks {
		if _, ok := sinkIDs[sinkID]; !ok {
			return fmt.Errorf("unknown sink: %s", sinkID)
		}
	}
	if s.RateLimit != nil && (s.RateLimit.Capacity <= 0 || s.RateLimit.PerSecond <= 0) {
		return errors.New("rate_limit.capacity and rate_limit.per_second must be positive")
	}
	if s.Dedupe != nil {
		if s.Dedupe.Key == "" || s.Dedupe.TTL == "" {
			return errors.New("dedupe.key and dedupe.ttl are required when dedupe is set")
		}
		if _, err := time.ParseDuration(s.Dedupe.TTL); err != nil {
			return fmt.Errorf("dedupe.ttl: %w", err)
		}
	}
	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
	case "log":
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
