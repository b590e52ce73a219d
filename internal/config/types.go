// Package config loads lakegov configuration from defaults, a YAML file,
// environment variables and command-line flags.
package config

import (
	"time"

	"github.com/leapstack-labs/lakegov/internal/governance"
)

// ServerConfig holds configuration for the audit HTTP server.
type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required,hostname_port"`
}

// Config holds all lakegov configuration. Paths are absolute after Load.
type Config struct {
	ProjectRoot string `koanf:"project_root"`

	LakeRoot          string `koanf:"lake_root" validate:"required"`
	WarehouseDir      string `koanf:"warehouse_dir" validate:"required"`
	AuditPath         string `koanf:"audit_path"`
	LineagePath       string `koanf:"lineage_path"`
	GDPREvidenceDir   string `koanf:"gdpr_evidence_dir"`
	ExportEvidenceDir string `koanf:"export_evidence_dir"`
	ExportStagingDir  string `koanf:"export_staging_dir"`
	RolesPath         string `koanf:"roles_path" validate:"required"`

	PIISecret string `koanf:"pii_secret" validate:"required"`
	TokenHash string `koanf:"token_hash" validate:"oneof=sha256 blake2b-256"`

	Role        string `koanf:"role" validate:"required"`
	PolicyCache bool   `koanf:"policy_cache"`

	// LockStaleAfter breaks partition locks older than this; zero never does.
	LockStaleAfter time.Duration `koanf:"lock_stale_after" validate:"gte=0"`

	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`
	LogFile   string `koanf:"log_file"`
	Output    string `koanf:"output" validate:"oneof=table json"`

	Server ServerConfig `koanf:"server"`
}

// Principal returns the principal the process acts as.
func (c *Config) Principal() governance.Principal {
	return governance.NewPrincipal(c.Role)
}

// UsesDefaultSecret reports whether the tokenizer secret was never configured.
func (c *Config) UsesDefaultSecret() bool {
	return c.PIISecret == DefaultPIISecret
}

// WarehouseDirs lists the warehouse directories init must create.
func (c *Config) WarehouseDirs() []string {
	return []string{c.WarehouseDir, c.GDPREvidenceDir, c.ExportEvidenceDir, c.ExportStagingDir}
}
