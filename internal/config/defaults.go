package config

import "path/filepath"

// File names searched for in the project root.
const (
	ConfigFileName    = "lakegov.yaml"
	ConfigFileNameAlt = "lakegov.yml"
	DotEnvFileName    = ".env"
)

// Default configuration values.
const (
	DefaultLakeRoot     = "data_lake"
	DefaultWarehouseDir = "warehouse"
	DefaultRolesPath    = "configs/roles.yaml"
	DefaultPIISecret    = "dev-secret-change-me"
	DefaultTokenHash    = "sha256"
	DefaultRole         = "analyst"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultOutput       = "table"
	DefaultServerAddr   = "127.0.0.1:8787"
)

// Warehouse file names, relative to warehouse_dir.
const (
	AuditFileName         = "governance.db"
	LineageFileName       = "lineage.jsonl"
	GDPREvidenceDirName   = "gdpr_evidence"
	ExportEvidenceDirName = "export_evidence"
	ExportStagingDirName  = "export_staging"
)

func defaults() map[string]any {
	return map[string]any{
		"lake_root":        DefaultLakeRoot,
		"warehouse_dir":    DefaultWarehouseDir,
		"roles_path":       DefaultRolesPath,
		"pii_secret":       DefaultPIISecret,
		"token_hash":       DefaultTokenHash,
		"role":             DefaultRole,
		"policy_cache":     false,
		"lock_stale_after": "0s",
		"log_level":        DefaultLogLevel,
		"log_format":       DefaultLogFormat,
		"output":           DefaultOutput,
		"server.addr":      DefaultServerAddr,
	}
}

// applyWarehouseDefaults places unset warehouse artifacts inside warehouse_dir.
func (c *Config) applyWarehouseDefaults() {
	set := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(c.WarehouseDir, name)
		}
	}
	set(&c.AuditPath, AuditFileName)
	set(&c.LineagePath, LineageFileName)
	set(&c.GDPREvidenceDir, GDPREvidenceDirName)
	set(&c.ExportEvidenceDir, ExportEvidenceDirName)
	set(&c.ExportStagingDir, ExportStagingDirName)
}
