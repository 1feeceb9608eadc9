package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxIncludeDepth bounds nested include chains.
const maxIncludeDepth = 10

// processIncludes overlays every file named by cfg.Includes onto cfg, in
// order, then clears the list. Included files may themselves declare
// includes; cycles and chains deeper than maxIncludeDepth are rejected.
// basePath is the directory of the file that declared the includes.
func processIncludes(cfg *Config, basePath string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: nesting deeper than %d levels", maxIncludeDepth)
	}
	if visited == nil {
		visited = make(map[string]bool)
	}

	pending := cfg.Includes
	cfg.Includes = nil

	for _, pattern := range pending {
		paths, err := expandInclude(pattern, basePath)
		if err != nil {
			return err
		}
		for _, path := range paths {
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("config includes: resolve %q: %w", path, err)
			}
			if visited[abs] {
				return fmt.Errorf("config includes: %q included twice (cycle)", abs)
			}
			visited[abs] = true

			if err := overlayFile(cfg, abs, visited, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandInclude resolves one include pattern against baseDir. Patterns may
// not escape the config directory. A glob that matches nothing is skipped;
// a literal path that matches nothing is returned as-is so the read error
// names the missing file.
func expandInclude(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: %q escapes the config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: bad pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		if strings.ContainsAny(pattern, "*?[") {
			return nil, nil
		}
		return []string{pattern}, nil
	}
	return matches, nil
}

// overlayFile unmarshals one included file onto cfg and recurses into its
// own includes, resolved relative to that file.
func overlayFile(cfg *Config, path string, visited map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	// Drop the parent's include list so only this file's nested includes
	// survive the unmarshal.
	cfg.Includes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}

	if len(cfg.Includes) > 0 {
		return processIncludes(cfg, filepath.Dir(path), visited, depth+1)
	}
	return nil
}
