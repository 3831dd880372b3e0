package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level hub configuration.
type Config struct {
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Communicator CommunicatorConfig `yaml:"communicator"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Consensus    ConsensusConfig    `yaml:"consensus"`
	Decision     DecisionConfig     `yaml:"decision"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Store        StoreConfig        `yaml:"store"`
	Connectors   ConnectorsConfig   `yaml:"connectors"`
	GRPC         GRPCConfig         `yaml:"grpc"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Ports        PortsConfig        `yaml:"ports"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
}

// LoggerConfig holds logging settings. File output rotates once it reaches
// MaxSizeMB.
type LoggerConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// CommunicatorConfig sizes the agent channels.
type CommunicatorConfig struct {
	Agents         []string      `yaml:"agents"`
	BufferSize     int           `yaml:"buffer_size"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// OrchestratorConfig bounds session admission and retention.
type OrchestratorConfig struct {
	MinIntentConfidence float64       `yaml:"min_intent_confidence"`
	MaxSessions         int           `yaml:"max_sessions"`
	SessionTTL          time.Duration `yaml:"session_ttl"`
	DefaultTimeout      time.Duration `yaml:"default_timeout"`
}

// ConsensusConfig holds voting defaults.
type ConsensusConfig struct {
	DefaultThreshold float64            `yaml:"default_threshold"`
	HistoryLimit     int                `yaml:"history_limit"`
	DefaultTimeout   time.Duration      `yaml:"default_timeout"`
	AgentWeights     map[string]float64 `yaml:"agent_weights,omitempty"`
	VoteSource       string             `yaml:"vote_source"` // "agents" or "simulated"
	Seed             uint64             `yaml:"seed"`
}

// DecisionConfig holds the policy review floors.
type DecisionConfig struct {
	SecurityMinimum float64 `yaml:"security_minimum"`
	RiskCeiling     float64 `yaml:"risk_ceiling"`
	CostNormalizer  float64 `yaml:"cost_normalizer"`
	HistoryLimit    int     `yaml:"history_limit"`
}

// KnowledgeConfig selects knowledge graph persistence. An empty Path keeps
// the graph in memory only.
type KnowledgeConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig selects the conversational state backend.
type StoreConfig struct {
	Backend   string        `yaml:"backend"` // memory, sqlite, redis
	Path      string        `yaml:"path,omitempty"`
	URL       string        `yaml:"url,omitempty"`
	Password  string        `yaml:"password,omitempty"`
	KeyPrefix string        `yaml:"key_prefix,omitempty"`
	TTL       time.Duration `yaml:"ttl"`
}

// ConnectorsConfig wires the cloud connectors behind each agent.
type ConnectorsConfig struct {
	Providers       []string      `yaml:"providers"`
	RateLimit       float64       `yaml:"rate_limit"`
	Burst           int           `yaml:"burst"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
	Latency         time.Duration `yaml:"latency,omitempty"`
	Failing         []string      `yaml:"failing,omitempty"`
}

// GRPCConfig holds the RPC listener. An empty Addr asks the port registry.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Enabled        bool       `yaml:"enabled"`
	Addr           string     `yaml:"addr"`
	Auth           AuthConfig `yaml:"auth"`
	RequestsPerMin int        `yaml:"requests_per_min"`
	Burst          int        `yaml:"burst"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string   `yaml:"token"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// PortsConfig tunes the port registry.
type PortsConfig struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	Reserved         []int         `yaml:"reserved,omitempty"`
	Probe            bool          `yaml:"probe"`
	MDNS             bool          `yaml:"mdns"`
}

// SchedulerConfig holds maintenance job settings. An empty task list
// installs the default housekeeping set.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks,omitempty"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
	Action   string `yaml:"action"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Tracer: TracerConfig{Exporter: "noop", ServiceName: "sirsi-hub", SampleRatio: 1},
		Communicator: CommunicatorConfig{
			Agents:         []string{"aws", "azure", "gcp", "digitalocean"},
			BufferSize:     100,
			MaxRetries:     3,
			RequestTimeout: 30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MinIntentConfidence: 0.1,
			MaxSessions:         1000,
			SessionTTL:          time.Hour,
			DefaultTimeout:      300 * time.Second,
		},
		Consensus: ConsensusConfig{
			DefaultThreshold: 0.67,
			HistoryLimit:     100,
			DefaultTimeout:   5 * time.Minute,
			VoteSource:       "agents",
		},
		Decision: DecisionConfig{
			SecurityMinimum: 0.7,
			RiskCeiling:     0.8,
			CostNormalizer:  10000,
			HistoryLimit:    100,
		},
		Store: StoreConfig{Backend: "memory", KeyPrefix: "sirsi:", TTL: 24 * time.Hour},
		Connectors: ConnectorsConfig{
			Providers:       []string{"aws", "azure", "gcp", "digitalocean"},
			RateLimit:       10,
			Burst:           5,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Gateway: GatewayConfig{Enabled: false, Addr: "127.0.0.1:8100", RequestsPerMin: 600, Burst: 60},
		Ports:   PortsConfig{HeartbeatTimeout: 30 * time.Second, Probe: true},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, decrypts
// secrets and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("SIRSI_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SIRSI_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIRSI_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SIRSI_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SIRSI_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("SIRSI_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SIRSI_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("SIRSI_COMMUNICATOR_AGENTS"); v != "" {
		cfg.Communicator.Agents = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SIRSI_ORCHESTRATOR_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.MaxSessions = n
		}
	}
	if v := os.Getenv("SIRSI_ORCHESTRATOR_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.DefaultTimeout = d
		}
	}
	if v := os.Getenv("SIRSI_CONSENSUS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Consensus.DefaultThreshold = f
		}
	}
	if v := os.Getenv("SIRSI_CONSENSUS_VOTE_SOURCE"); v != "" {
		cfg.Consensus.VoteSource = v
	}
	if v := os.Getenv("SIRSI_KNOWLEDGE_PATH"); v != "" {
		cfg.Knowledge.Path = v
	}
	if v := os.Getenv("SIRSI_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("SIRSI_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SIRSI_STORE_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := os.Getenv("SIRSI_STORE_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("SIRSI_CONNECTORS_FAILING"); v != "" {
		cfg.Connectors.Failing = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SIRSI_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("SIRSI_GATEWAY_ENABLED"); v == "true" {
		cfg.Gateway.Enabled = true
	}
	if v := os.Getenv("SIRSI_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("SIRSI_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{Token: v, Name: "env", Roles: []string{"admin"}})
	}
	if v := os.Getenv("SIRSI_PORTS_MDNS"); v == "true" {
		cfg.Ports.MDNS = true
	}
	if v := os.Getenv("SIRSI_SCHEDULER_ENABLED"); v == "false" {
		cfg.Scheduler.Enabled = false
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces "enc:..." values with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Store.Password, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Store.Password, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("store password: %w", err)
		}
		cfg.Store.Password = decrypted
	}
	for i := range cfg.Gateway.Auth.Tokens {
		tok := cfg.Gateway.Auth.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("gateway auth token %s: %w", cfg.Gateway.Auth.Tokens[i].Name, err)
			}
			cfg.Gateway.Auth.Tokens[i].Token = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
