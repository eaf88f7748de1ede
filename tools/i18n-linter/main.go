// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks the CLI message catalogue for missing or orphaned keys.
// It scans the Go source for i18n.T() calls and compares them against the
// YAML locale files under internal/i18n/locales.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
	projectRoot   = "."
)

// report is the outcome of one lint run.
type report struct {
	// Undefined keys are used in code but absent from the primary locale.
	Undefined []string
	// Orphaned keys are in the primary locale but never used.
	Orphaned []string
	// Missing maps a secondary locale file to the primary keys it lacks.
	Missing map[string][]string
}

func (r report) failed() bool {
	if len(r.Undefined) > 0 {
		return true
	}
	for _, keys := range r.Missing {
		if len(keys) > 0 {
			return true
		}
	}
	return false
}

func main() {
	fmt.Println("Running i18n linter...")
	r, err := lint(projectRoot, localesDir)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	printKeys("Used in code but not defined in "+primaryLocale, r.Undefined)
	printKeys("Defined in "+primaryLocale+" but never used", r.Orphaned)
	files := make([]string, 0, len(r.Missing))
	for f := range r.Missing {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		printKeys("Missing from "+f, r.Missing[f])
	}

	if r.failed() {
		fmt.Println("Found issues that need to be addressed.")
		os.Exit(1)
	}
	fmt.Println("All translation files are consistent.")
}

func printKeys(title string, keys []string) {
	fmt.Printf("--- %s ---\n", title)
	if len(keys) == 0 {
		fmt.Println("  none")
		return
	}
	for _, k := range keys {
		fmt.Printf("  - %s\n", k)
	}
}

// lint compares the keys used under root with the locale files in dir.
func lint(root, dir string) (report, error) {
	r := report{Missing: map[string][]string{}}

	used, err := findUsedKeys(root)
	if err != nil {
		return r, fmt.Errorf("finding used keys: %w", err)
	}
	primary, err := loadKeysFromLocale(filepath.Join(root, dir, primaryLocale))
	if err != nil {
		return r, fmt.Errorf("loading primary locale %s: %w", primaryLocale, err)
	}

	r.Undefined = difference(used, primary)
	r.Orphaned = difference(primary, used)

	files, err := filepath.Glob(filepath.Join(root, dir, "*.yaml"))
	if err != nil {
		return r, err
	}
	for _, file := range files {
		if filepath.Base(file) == primaryLocale {
			continue
		}
		keys, err := loadKeysFromLocale(file)
		if err != nil {
			return r, fmt.Errorf("loading %s: %w", file, err)
		}
		r.Missing[filepath.Base(file)] = difference(primary, keys)
	}
	return r, nil
}

// difference returns the sorted keys of a that are not in b.
func difference(a, b map[string]struct{}) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// findUsedKeys scans all non-test .go files for i18n.T("key") calls.
func findUsedKeys(root string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	re := regexp.MustCompile(`i18n\.T\("([^"]+)"`)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			// The linter itself and the reference material are not scanned.
			if path != root && (info.Name() == "tools" || strings.HasPrefix(info.Name(), "_") || strings.HasPrefix(info.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, match := range re.FindAllStringSubmatch(string(content), -1) {
			keys[match[1]] = struct{}{}
		}
		return nil
	})
	return keys, err
}

// loadKeysFromLocale reads a YAML file and returns a flat map of its keys.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}

	keys := make(map[string]struct{})
	flattenYAML("", data, keys)
	return keys, nil
}

// flattenYAML converts a nested map into a flat map with dot-separated keys.
func flattenYAML(prefix string, node interface{}, keys map[string]struct{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, val := range v {
			newPrefix := k
			if prefix != "" {
				newPrefix = prefix + "." + k
			}
			flattenYAML(newPrefix, val, keys)
		}
	case []interface{}:
		for i, val := range v {
			flattenYAML(fmt.Sprintf("%s[%d]", prefix, i), val, keys)
		}
	default:
		if prefix != "" {
			keys[prefix] = struct{}{}
		}
	}
}
