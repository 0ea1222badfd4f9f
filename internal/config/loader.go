package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/clirelay/internal/command"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// Supports both single-file mode (all config in one file) and multi-file mode (via include array).
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Files = []string{absPath}

	// If include array exists, load and merge included files
	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)

	// Hash-verify all configuration files (root config + all includes)
	if err := verifyAllConfigHashes(cfg.Files); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverAllConfigFiles returns absolute paths to all configuration files in the include tree.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Files = []string{absPath}

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	files := append([]string(nil), cfg.Files...)
	sort.Strings(files)
	return files, nil
}

func resolveConfigFile(configPath string) (string, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		// Apply env var interpolation to path
		includePath = interpolateEnv(includePath)

		var resolvedPath string
		if filepath.IsAbs(includePath) {
			resolvedPath = includePath
		} else {
			resolvedPath = filepath.Join(baseDir, includePath)
		}

		// Convert to absolute path for cycle detection
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}

		// Check if file exists - HARD FAIL with good UX
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}

		visited[absPath] = true
		cfg.Files = append(cfg.Files, absPath)

		includedCfg, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}

		deepMergeConfig(cfg, includedCfg)

		if len(includedCfg.Include) > 0 {
			if err := loadIncludes(cfg, includedCfg.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}

	return nil
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	// Parse YAML into partial config (don't apply defaults yet)
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero values.
func deepMergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.MaxConcurrent != 0 {
		dst.Service.MaxConcurrent = src.Service.MaxConcurrent
	}
	if src.Service.MaxOutputBytes != 0 {
		dst.Service.MaxOutputBytes = src.Service.MaxOutputBytes
	}
	if src.Service.PIDFile != "" {
		dst.Service.PIDFile = src.Service.PIDFile
	}

	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.StaticDir != "" {
		dst.API.StaticDir = src.API.StaticDir
	}
	if src.API.MaxBodyBytes != 0 {
		dst.API.MaxBodyBytes = src.API.MaxBodyBytes
	}
	if src.API.EventBuffer != 0 {
		dst.API.EventBuffer = src.API.EventBuffer
	}
	if src.API.GRPCHealthListen != "" {
		dst.API.GRPCHealthListen = src.API.GRPCHealthListen
	}

	if src.Audit.Enabled != nil {
		dst.Audit.Enabled = src.Audit.Enabled
	}
	if src.Audit.Path != "" {
		dst.Audit.Path = src.Audit.Path
	}
	if src.Audit.Retention != nil {
		dst.Audit.Retention = src.Audit.Retention
	}

	// Commands are additive; a later file redefines an id wholesale.
	if src.Commands != nil {
		if dst.Commands == nil {
			dst.Commands = make(map[string]CommandConf)
		}
		for id, cmd := range src.Commands {
			dst.Commands[id] = cmd
		}
	}
}

func verifyAllConfigHashes(paths []string) error {
	// Group paths by directory to avoid loading the same checksums file multiple times
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			// If .checksums is missing, we skip verification for this directory.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: clirelay config lock --config %s", basename, dir, paths[0])
			}

			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"This indicates tampering or unauthorized modification.\n"+
					"If you edited this file intentionally, run: clirelay config lock --config %s", path, err, paths[0])
			}
		}
	}

	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.PIDFile == "" {
		cfg.Service.PIDFile = defaults.Service.PIDFile
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxBodyBytes == 0 {
		cfg.API.MaxBodyBytes = defaults.API.MaxBodyBytes
	}
	if cfg.API.EventBuffer == 0 {
		cfg.API.EventBuffer = defaults.API.EventBuffer
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = defaults.Audit.Path
	}

	if cfg.Commands == nil {
		cfg.Commands = make(map[string]CommandConf)
	}

	// Relative paths are relative to the root config file, not the working directory.
	if len(cfg.Files) > 0 {
		base := filepath.Dir(cfg.Files[0])
		cfg.Audit.Path = resolveRelative(base, cfg.Audit.Path)
		cfg.Service.PIDFile = resolveRelative(base, cfg.Service.PIDFile)
		if cfg.API.StaticDir != "" {
			cfg.API.StaticDir = resolveRelative(base, cfg.API.StaticDir)
		}
	}

	return cfg
}

func resolveRelative(base, path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.MaxConcurrent < 0 {
		return fmt.Errorf("service.max_concurrent must be >= 0")
	}
	if cfg.Service.MaxOutputBytes < 0 {
		return fmt.Errorf("service.max_output_bytes must be >= 0")
	}

	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if cfg.API.MaxBodyBytes < 0 {
		return fmt.Errorf("api.max_body_bytes must be positive")
	}
	if cfg.API.EventBuffer < 0 {
		return fmt.Errorf("api.event_buffer must be positive")
	}

	if cfg.Audit.IsEnabled() && cfg.Audit.Path == "" {
		return fmt.Errorf("audit.path is required when the audit log is enabled")
	}
	if cfg.Audit.RetentionPeriod() < 0 {
		return fmt.Errorf("audit.retention must be >= 0")
	}

	ids := make([]string, 0, len(cfg.Commands))
	for id := range cfg.Commands {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cmd := cfg.Commands[id]
		if !command.ValidID(id) {
			return fmt.Errorf("command %q: id must match [A-Za-z0-9][A-Za-z0-9_-]*", id)
		}
		if cmd.Executable == "" {
			return fmt.Errorf("command %q: executable is required", id)
		}
		if cmd.Timeout < 0 {
			return fmt.Errorf("command %q: timeout must be >= 0", id)
		}
		if err := checkUnresolvedEnvVars(id, cmd); err != nil {
			return err
		}
	}

	return nil
}

// checkUnresolvedEnvVars rejects ${VAR} placeholders left in a command's
// launch fields so a missing secret never reaches a child process.
func checkUnresolvedEnvVars(id string, cmd CommandConf) error {
	check := func(field, value string) error {
		if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
			return fmt.Errorf("command %q: %s: environment variable ${%s} is not set", id, field, matches[1])
		}
		return nil
	}

	if err := check("executable", cmd.Executable); err != nil {
		return err
	}
	for i, arg := range cmd.Args {
		if err := check(fmt.Sprintf("args[%d]", i), arg); err != nil {
			return err
		}
	}
	if err := check("dir", cmd.Dir); err != nil {
		return err
	}
	for k, v := range cmd.Env {
		if err := check("env."+k, v); err != nil {
			return err
		}
	}
	return nil
}
