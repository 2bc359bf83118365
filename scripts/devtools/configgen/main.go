// Command configgen renders per-environment configs for flyer-service and
// flyerctl from base files plus a profile of overrides.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

type Profile struct {
	OutputDir string                    `yaml:"outputDir"`
	Shared    SharedProfile             `yaml:"shared"`
	Services  map[string]ServiceProfile `yaml:"services"`
}

// SharedProfile values are copied into every config that has the matching key.
type SharedProfile struct {
	RedisAddr string `yaml:"redisAddr"`
	Bucket    string `yaml:"bucket"`
	BaseURL   string `yaml:"baseURL"`
}

type ServiceProfile struct {
	Base      string                 `yaml:"base"`
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/dev-profile.yaml", "Path to config profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	if err := run(*profilePath, *outputDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(profilePath, outputDir string) error {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return fmt.Errorf("load profile failed: %w", err)
	}
	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return errors.New("output directory is required")
	}
	profileDir := filepath.Dir(profilePathAbs)
	if !filepath.IsAbs(profile.OutputDir) {
		profile.OutputDir = filepath.Join(profileDir, profile.OutputDir)
	}

	names := make([]string, 0, len(profile.Services))
	for name := range profile.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		service := profile.Services[name]
		if service.Base == "" {
			return fmt.Errorf("service %q missing base config", name)
		}
		if !filepath.IsAbs(service.Base) {
			service.Base = filepath.Join(profileDir, service.Base)
		}
		rendered, err := render(profile.Shared, service)
		if err != nil {
			return fmt.Errorf("render %q failed: %w", name, err)
		}
		outputPath, err := resolveOutputPath(profile.OutputDir, service)
		if err != nil {
			return fmt.Errorf("resolve output path for %q failed: %w", name, err)
		}
		if err := writeYAML(outputPath, rendered); err != nil {
			return fmt.Errorf("write config for %q failed: %w", name, err)
		}
	}
	return nil
}

func render(shared SharedProfile, service ServiceProfile) (map[string]interface{}, error) {
	base, err := loadYAML(service.Base)
	if err != nil {
		return nil, err
	}
	root, ok := normalizeValue(base).(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	applyShared(shared, root)
	if len(service.Overrides) > 0 {
		override, ok := normalizeValue(service.Overrides).(map[string]interface{})
		if !ok {
			return nil, errors.New("override config is not a map")
		}
		root = mergeMap(root, override)
	}
	return root, nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if len(profile.Services) == 0 {
		return nil, errors.New("profile has no services")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}
	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return value, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write yaml failed: %w", err)
	}
	return nil
}

func resolveOutputPath(outputDir string, service ServiceProfile) (string, error) {
	output := service.Output
	if output == "" {
		output = filepath.Base(service.Base)
	}
	if output == "" || output == "." {
		return "", errors.New("output path is empty")
	}
	if filepath.IsAbs(output) {
		return output, nil
	}
	return filepath.Join(outputDir, output), nil
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap overlays override on base; nested maps merge, everything else replaces.
func mergeMap(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for key, overrideValue := range override {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			merged[key] = mergeMap(baseChild, overrideChild)
			continue
		}
		merged[key] = overrideValue
	}
	return merged
}

func applyShared(shared SharedProfile, root map[string]interface{}) {
	if shared.RedisAddr != "" {
		if redis, ok := root["redis"].(map[string]interface{}); ok {
			redis["addr"] = shared.RedisAddr
		}
	}
	if shared.Bucket != "" {
		if objects, ok := root["objects"].(map[string]interface{}); ok {
			objects["bucket"] = shared.Bucket
		}
	}
	if shared.BaseURL != "" {
		if _, ok := root["baseURL"]; ok {
			root["baseURL"] = shared.BaseURL
		}
	}
}
