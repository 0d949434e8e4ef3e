package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Files listed under
// include are merged in order; sources and stations append.
func Load(configPath string) (*Config, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourceFiles = make(map[string]*yaml.Node)
	recordNode(cfg, absPath)

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)
	resolveRelativePaths(cfg, filepath.Dir(absPath))

	// Hash-verify the root config and every include
	allPaths := make([]string, 0, len(visited))
	for p := range visited {
		allPaths = append(allPaths, p)
	}
	sort.Strings(allPaths)
	if err := verifyAllConfigHashes(allPaths); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $MEDKIOSK_CONFIG, ~/.config/medkiosk/config.yaml,
// /etc/medkiosk/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("MEDKIOSK_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(homeDir, ".config", "medkiosk", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if p := "/etc/medkiosk/config.yaml"; fileExists(p) {
		return p, nil
	}

	if p := "./config.yaml"; fileExists(p) {
		return p, nil
	}

	return "", fmt.Errorf("no config found (checked: $MEDKIOSK_CONFIG, ~/.config/medkiosk/config.yaml, /etc/medkiosk/config.yaml, ./config.yaml)")
}

// DiscoverAllConfigFiles returns absolute paths to all configuration files in
// the include tree, sorted.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	if fi, err := os.Stat(absPath); err == nil && fi.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourceFiles = make(map[string]*yaml.Node)

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	files := make([]string, 0, len(visited))
	for f := range visited {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}

		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		includedCfg, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		recordNode(cfg, absPath)

		// Paths in an included file are relative to that file.
		resolveRelativePaths(includedCfg, filepath.Dir(absPath))
		deepMergeConfig(cfg, includedCfg)

		if len(includedCfg.Include) > 0 {
			if err := loadIncludes(cfg, includedCfg.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func recordNode(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err == nil {
		cfg.SourceFiles[path] = &node
	}
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero values.
func deepMergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.PollInterval != 0 {
		dst.Service.PollInterval = src.Service.PollInterval
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}
	if src.Service.LockPath != "" {
		dst.Service.LockPath = src.Service.LockPath
	}

	if src.Reconnect.MinDelay != 0 {
		dst.Reconnect.MinDelay = src.Reconnect.MinDelay
	}
	if src.Reconnect.MaxDelay != 0 {
		dst.Reconnect.MaxDelay = src.Reconnect.MaxDelay
	}
	if src.Reconnect.FailureThreshold != 0 {
		dst.Reconnect.FailureThreshold = src.Reconnect.FailureThreshold
	}

	dst.Sources = append(dst.Sources, src.Sources...)

	if src.Stations.BaseDir != "" {
		dst.Stations.BaseDir = src.Stations.BaseDir
	}
	if src.Stations.Interpreter != "" {
		dst.Stations.Interpreter = src.Stations.Interpreter
	}
	dst.Stations.Table = append(dst.Stations.Table, src.Stations.Table...)

	if len(src.Environment) > 0 {
		if dst.Environment == nil {
			dst.Environment = make(map[string]string, len(src.Environment))
		}
		for k, v := range src.Environment {
			dst.Environment[k] = v
		}
	}

	if src.Journal.Enabled {
		dst.Journal.Enabled = true
	}
	if src.Journal.Path != "" {
		dst.Journal.Path = src.Journal.Path
	}
	if src.Journal.Retention != 0 {
		dst.Journal.Retention = src.Journal.Retention
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.APIKey != "" {
		dst.API.APIKey = src.API.APIKey
	}
}

// resolveRelativePaths anchors file paths at baseDir. Station paths are left
// alone; they resolve against stations.base_dir at dispatch time.
func resolveRelativePaths(cfg *Config, baseDir string) {
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.Service.LockPath = anchor(cfg.Service.LockPath)
	cfg.Journal.Path = anchor(cfg.Journal.Path)
	cfg.Stations.BaseDir = anchor(cfg.Stations.BaseDir)
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.PollInterval == 0 {
		cfg.Service.PollInterval = defaults.Service.PollInterval
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = defaults.Service.LockPath
	}

	if cfg.Reconnect.MinDelay == 0 {
		cfg.Reconnect.MinDelay = defaults.Reconnect.MinDelay
	}
	if cfg.Reconnect.MaxDelay == 0 {
		cfg.Reconnect.MaxDelay = defaults.Reconnect.MaxDelay
	}
	if cfg.Reconnect.FailureThreshold == 0 {
		cfg.Reconnect.FailureThreshold = defaults.Reconnect.FailureThreshold
	}

	if cfg.Stations.Interpreter == "" {
		cfg.Stations.Interpreter = defaults.Stations.Interpreter
	}

	if cfg.Environment == nil {
		cfg.Environment = defaults.Environment
	}

	// An untouched journal block means the default journal.
	if !cfg.Journal.Enabled && cfg.Journal.Path == "" {
		cfg.Journal = defaults.Journal
	}
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = defaults.Journal.Retention
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; Validate reports it.
		return match
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
