package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Modos do gate de compliance.
const (
	ComplianceAllowAll = "allow_all"
	ComplianceStatic   = "static"
	ComplianceRemote   = "remote"
)

// Config é a configuração completa do serviço.
type Config struct {
	HTTPAddr string
	Admins   []string

	LogLevel  string
	LogFormat string

	DatabaseURL string

	SolanaRPCURL          string
	SolanaVaultPrivateKey string
	SolanaMint            string

	Compliance ComplianceConfig

	ListenerInterval    time.Duration
	ListenerBatchSize   int
	ListenerMaxAttempts int

	AccessRate  int64
	AccessBurst int64
}

// ComplianceConfig escolhe e parametriza o gate de compliance.
type ComplianceConfig struct {
	Mode             string
	DeniedPrincipals []string
	DeniedAssetTypes []string
	RemoteURL        string
	Timeout          time.Duration
	MaxRetries       int
}

// SettlementEnabled indica se os pagamentos devem ir para a Solana.
func (c Config) SettlementEnabled() bool {
	return c.SolanaRPCURL != "" && c.SolanaVaultPrivateKey != ""
}

// Default retorna a configuração de desenvolvimento: memória, sem Solana, compliance liberado.
func Default() Config {
	return Config{
		HTTPAddr:  ":8080",
		LogLevel:  "info",
		LogFormat: "console",
		Compliance: ComplianceConfig{
			Mode:       ComplianceAllowAll,
			Timeout:    3 * time.Second,
			MaxRetries: 2,
		},
		ListenerInterval:    5 * time.Second,
		ListenerBatchSize:   50,
		ListenerMaxAttempts: 5,
		AccessRate:          60,
		AccessBurst:         10,
	}
}

type fileConfig struct {
	HTTPAddr  string   `toml:"http_addr"`
	Admins    []string `toml:"admins"`
	LogLevel  string   `toml:"log_level"`
	LogFormat string   `toml:"log_format"`

	Database struct {
		URL string `toml:"url"`
	} `toml:"database"`

	Solana struct {
		RPCURL          string `toml:"rpc_url"`
		VaultPrivateKey string `toml:"vault_private_key"`
		Mint            string `toml:"mint"`
	} `toml:"solana"`

	Compliance struct {
		Mode             string   `toml:"mode"`
		DeniedPrincipals []string `toml:"denied_principals"`
		DeniedAssetTypes []string `toml:"denied_asset_types"`
		RemoteURL        string   `toml:"remote_url"`
		Timeout          string   `toml:"timeout"`
		MaxRetries       int      `toml:"max_retries"`
	} `toml:"compliance"`

	Listener struct {
		Interval    string `toml:"interval"`
		BatchSize   int    `toml:"batch_size"`
		MaxAttempts int    `toml:"max_attempts"`
	} `toml:"listener"`

	Access struct {
		RatePerMinute int64 `toml:"rate_per_minute"`
		Burst         int64 `toml:"burst"`
	} `toml:"access"`
}

// Load lê o arquivo TOML (opcional, path vazio pula), aplica as variáveis de ambiente e valida.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("falha ao ler configuração %s: %w", path, err)
	}

	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("admins") {
		cfg.Admins = normalizeList(raw.Admins)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("database", "url") {
		cfg.DatabaseURL = strings.TrimSpace(raw.Database.URL)
	}
	if meta.IsDefined("solana", "rpc_url") {
		cfg.SolanaRPCURL = strings.TrimSpace(raw.Solana.RPCURL)
	}
	if meta.IsDefined("solana", "vault_private_key") {
		cfg.SolanaVaultPrivateKey = strings.TrimSpace(raw.Solana.VaultPrivateKey)
	}
	if meta.IsDefined("solana", "mint") {
		cfg.SolanaMint = strings.TrimSpace(raw.Solana.Mint)
	}
	if meta.IsDefined("compliance", "mode") {
		cfg.Compliance.Mode = strings.TrimSpace(raw.Compliance.Mode)
	}
	if meta.IsDefined("compliance", "denied_principals") {
		cfg.Compliance.DeniedPrincipals = normalizeList(raw.Compliance.DeniedPrincipals)
	}
	if meta.IsDefined("compliance", "denied_asset_types") {
		cfg.Compliance.DeniedAssetTypes = normalizeList(raw.Compliance.DeniedAssetTypes)
	}
	if meta.IsDefined("compliance", "remote_url") {
		cfg.Compliance.RemoteURL = strings.TrimSpace(raw.Compliance.RemoteURL)
	}
	if meta.IsDefined("compliance", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Compliance.Timeout))
		if err != nil {
			return fmt.Errorf("compliance.timeout inválido: %w", err)
		}
		cfg.Compliance.Timeout = d
	}
	if meta.IsDefined("compliance", "max_retries") {
		cfg.Compliance.MaxRetries = raw.Compliance.MaxRetries
	}
	if meta.IsDefined("listener", "interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Listener.Interval))
		if err != nil {
			return fmt.Errorf("listener.interval inválido: %w", err)
		}
		cfg.ListenerInterval = d
	}
	if meta.IsDefined("listener", "batch_size") {
		cfg.ListenerBatchSize = raw.Listener.BatchSize
	}
	if meta.IsDefined("listener", "max_attempts") {
		cfg.ListenerMaxAttempts = raw.Listener.MaxAttempts
	}
	if meta.IsDefined("access", "rate_per_minute") {
		cfg.AccessRate = raw.Access.RatePerMinute
	}
	if meta.IsDefined("access", "burst") {
		cfg.AccessBurst = raw.Access.Burst
	}
	return nil
}

// applyEnv sobrepõe o arquivo. Os nomes sem prefixo seguem o backend original.
func applyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("TIQUIN_HTTP_ADDR", &cfg.HTTPAddr)
	setString("TIQUIN_LOG_LEVEL", &cfg.LogLevel)
	setString("TIQUIN_LOG_FORMAT", &cfg.LogFormat)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("SOLANA_RPC_URL", &cfg.SolanaRPCURL)
	setString("SOLANA_VAULT_PRIVATE_KEY", &cfg.SolanaVaultPrivateKey)
	setString("SOLANA_MINT", &cfg.SolanaMint)
	setString("TIQUIN_COMPLIANCE_MODE", &cfg.Compliance.Mode)
	setString("TIQUIN_COMPLIANCE_URL", &cfg.Compliance.RemoteURL)

	if v := getenv("TIQUIN_ADMINS"); v != "" {
		cfg.Admins = normalizeList(strings.Split(v, ","))
	}
	if v := strings.TrimSpace(getenv("TIQUIN_LISTENER_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TIQUIN_LISTENER_INTERVAL inválido: %w", err)
		}
		cfg.ListenerInterval = d
	}
	if v := strings.TrimSpace(getenv("TIQUIN_ACCESS_RATE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TIQUIN_ACCESS_RATE inválido: %w", err)
		}
		cfg.AccessRate = n
	}
	return nil
}

// Validate rejeita combinações que impediriam o serviço de subir.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr vazio"))
	}
	switch c.Compliance.Mode {
	case ComplianceAllowAll, ComplianceStatic:
	case ComplianceRemote:
		if c.Compliance.RemoteURL == "" {
			errs = append(errs, errors.New("compliance remoto exige remote_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("modo de compliance desconhecido: %q", c.Compliance.Mode))
	}
	if c.Compliance.MaxRetries < 0 {
		errs = append(errs, errors.New("compliance.max_retries negativo"))
	}
	if c.ListenerInterval <= 0 {
		errs = append(errs, errors.New("listener.interval deve ser positivo"))
	}
	if c.ListenerBatchSize <= 0 || c.ListenerMaxAttempts <= 0 {
		errs = append(errs, errors.New("listener.batch_size e listener.max_attempts devem ser positivos"))
	}
	if c.AccessRate <= 0 || c.AccessBurst <= 0 {
		errs = append(errs, errors.New("access.rate_per_minute e access.burst devem ser positivos"))
	}
	if (c.SolanaRPCURL == "") != (c.SolanaVaultPrivateKey == "") {
		errs = append(errs, errors.New("solana.rpc_url e solana.vault_private_key devem ser definidos juntos"))
	}
	if c.SettlementEnabled() && c.SolanaMint == "" {
		errs = append(errs, errors.New("solana.mint é obrigatório quando a liquidação on-chain está ativa"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuração inválida: %w", errors.Join(errs...))
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
