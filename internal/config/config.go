package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "ROLODEX"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "rolodex.db"
	defaultLogLevel     = "info"
	defaultLDAPPort     = 389
	defaultPageSize     = 100
	defaultMaxEntries   = 0
	defaultBatchSize    = 20
	defaultSyncInterval = 60 * time.Minute
)

// AppConfig captures runtime configuration for the API server. The core
// reads it at construction time only; changing settings requires a restart.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	LDAP LDAPConfig
	AXL  AXLConfig
	Sync SyncConfig
}

// LDAPConfig describes the upstream directory connection.
type LDAPConfig struct {
	Host           string
	Port           int
	UseTLS         bool
	BindDN         string
	BindPassword   string
	AllowAnonymous bool
	BaseDN         string
	PageSize       uint32
	// MaxEntries bounds one sync pass; zero means full pagination.
	MaxEntries          int
	ExcludeAffiliations []string
}

// AXLConfig describes the telephony provisioning service endpoint.
type AXLConfig struct {
	Host       string
	Username   string
	Password   string
	SkipVerify bool
}

// SyncConfig controls the background reconciliation pass.
type SyncConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("ldap.host", "")
	configViper.SetDefault("ldap.port", defaultLDAPPort)
	configViper.SetDefault("ldap.use_tls", false)
	configViper.SetDefault("ldap.bind_dn", "")
	configViper.SetDefault("ldap.bind_password", "")
	configViper.SetDefault("ldap.allow_anonymous", true)
	configViper.SetDefault("ldap.base_dn", "")
	configViper.SetDefault("ldap.page_size", defaultPageSize)
	configViper.SetDefault("ldap.max_entries", defaultMaxEntries)
	configViper.SetDefault("ldap.exclude_affiliations", []string{})

	configViper.SetDefault("axl.host", "")
	configViper.SetDefault("axl.username", "")
	configViper.SetDefault("axl.password", "")
	configViper.SetDefault("axl.skip_verify", true)

	configViper.SetDefault("sync.enabled", false)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.batch_size", defaultBatchSize)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		LDAP: LDAPConfig{
			Host:                configViper.GetString("ldap.host"),
			Port:                configViper.GetInt("ldap.port"),
			UseTLS:              configViper.GetBool("ldap.use_tls"),
			BindDN:              configViper.GetString("ldap.bind_dn"),
			BindPassword:        configViper.GetString("ldap.bind_password"),
			AllowAnonymous:      configViper.GetBool("ldap.allow_anonymous"),
			BaseDN:              configViper.GetString("ldap.base_dn"),
			PageSize:            configViper.GetUint32("ldap.page_size"),
			MaxEntries:          configViper.GetInt("ldap.max_entries"),
			ExcludeAffiliations: configViper.GetStringSlice("ldap.exclude_affiliations"),
		},
		AXL: AXLConfig{
			Host:       configViper.GetString("axl.host"),
			Username:   configViper.GetString("axl.username"),
			Password:   configViper.GetString("axl.password"),
			SkipVerify: configViper.GetBool("axl.skip_verify"),
		},
		Sync: SyncConfig{
			Enabled:   configViper.GetBool("sync.enabled"),
			Interval:  configViper.GetDuration("sync.interval"),
			BatchSize: configViper.GetInt("sync.batch_size"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.LDAP.Host) == "" {
		return fmt.Errorf("ldap.host is required")
	}
	if strings.TrimSpace(c.LDAP.BaseDN) == "" {
		return fmt.Errorf("ldap.base_dn is required")
	}
	if c.LDAP.Port <= 0 || c.LDAP.Port > 65535 {
		return fmt.Errorf("ldap.port must be a valid port number")
	}
	if c.LDAP.PageSize == 0 {
		return fmt.Errorf("ldap.page_size must be positive")
	}
	if c.LDAP.MaxEntries < 0 {
		return fmt.Errorf("ldap.max_entries must be zero or positive")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive when sync.enabled is set")
	}
	return nil
}
