package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides: LAKEGOV_LAKE_ROOT -> lake_root.
const EnvPrefix = "LAKEGOV_"

// Legacy environment names still honored below their LAKEGOV_ equivalents.
const (
	LegacyRoleEnv   = "GOVDEMO_ROLE"
	LegacySecretEnv = "PII_TOKEN_SECRET"
)

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps flag names whose config key is not the snake_case flag name.
var flagKeys = map[string]string{
	"roles": "roles_path",
	"addr":  "server.addr",
}

// pathKeys are resolved against the project root when relative.
var pathKeys = map[string]bool{
	"lake_root": true, "warehouse_dir": true, "audit_path": true, "lineage_path": true,
	"gdpr_evidence_dir": true, "export_evidence_dir": true, "export_staging_dir": true,
	"roles_path": true, "log_file": true,
}

// configExistsIn returns the config file in dir, or "".
func configExistsIn(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a lakegov config file.
func findConfigUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if path := configExistsIn(dir); path != "" {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Load builds the configuration.
// Precedence (highest to lowest): flags > LAKEGOV_ env > legacy env > .env >
// config file > defaults. Flag paths are relative to the working directory;
// every other relative path is relative to the project root, which is the
// config file's directory or the working directory when there is none.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	configFile := cfgFile
	if configFile == "" {
		configFile = findConfigUpward(cwd)
	} else if _, err := os.Stat(configFile); err != nil {
		return nil, &governance.ConfigurationError{Path: configFile, Reason: "config file not found", Err: err}
	}

	projectRoot := cwd
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", configFile, err)
		}
		configFile = abs
		projectRoot = filepath.Dir(abs)
	}

	// .env never overrides variables already set in the process.
	if err := godotenv.Load(filepath.Join(projectRoot, DotEnvFileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &governance.ConfigurationError{Path: filepath.Join(projectRoot, DotEnvFileName), Reason: "invalid .env file", Err: err}
	}

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, &governance.ConfigurationError{Path: configFile, Reason: "invalid config file", Err: err}
		}
	}

	// 3. Legacy environment names
	legacy := map[string]any{}
	if v, ok := os.LookupEnv(LegacyRoleEnv); ok && v != "" {
		legacy["role"] = v
	}
	if v, ok := os.LookupEnv(LegacySecretEnv); ok && v != "" {
		legacy["pii_secret"] = v
	}
	if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy env vars: %w", err)
	}

	// 4. LAKEGOV_ environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 5. Flags, only those explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			key := flagKey(f.Name)
			val := posflag.FlagVal(flags, f)
			if s, ok := val.(string); ok && pathKeys[key] && s != "" {
				if abs, err := filepath.Abs(s); err == nil {
					val = abs
				}
			}
			return key, val
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &governance.ConfigurationError{Path: configFile, Reason: "unable to decode config", Err: err}
	}

	cfg.ProjectRoot = projectRoot
	for _, p := range []*string{
		&cfg.LakeRoot, &cfg.WarehouseDir, &cfg.AuditPath, &cfg.LineagePath,
		&cfg.GDPREvidenceDir, &cfg.ExportEvidenceDir, &cfg.ExportStagingDir,
		&cfg.RolesPath, &cfg.LogFile,
	} {
		*p = resolvePathRelativeTo(*p, projectRoot)
	}
	cfg.applyWarehouseDefaults()
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := governance.ValidateStruct(&cfg); err != nil {
		return nil, &governance.ConfigurationError{Path: configFile, Reason: "invalid configuration", Err: err}
	}
	return &cfg, nil
}

// envKey transforms LAKEGOV_SERVER_ADDR into server.addr and LAKEGOV_LAKE_ROOT
// into lake_root.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if rest, ok := strings.CutPrefix(key, "server_"); ok {
		return "server." + rest
	}
	return key
}

func flagKey(name string) string {
	if key, ok := flagKeys[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "-", "_")
}
