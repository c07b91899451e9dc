package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// collectorConfig is the part of an OpenTelemetry Collector config that
// names file exporters and the pipelines that use them.
type collectorConfig struct {
	Exporters map[string]struct {
		Path string `yaml:"path"`
	} `yaml:"exporters"`
	Service struct {
		Pipelines map[string]struct {
			Exporters []string `yaml:"exporters"`
		} `yaml:"pipelines"`
	} `yaml:"service"`
}

// CollectorTraceDirs reads a Collector config and returns the directories
// its file exporters write traces to, sorted. When the config declares
// pipelines, only exporters used by a traces pipeline count; otherwise every
// file exporter does.
func CollectorTraceDirs(configPath string) ([]string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read collector config: %w", err)
	}

	var config collectorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse collector config: %w", err)
	}

	var traceExporters map[string]bool
	if len(config.Service.Pipelines) > 0 {
		traceExporters = make(map[string]bool)
		for name, pipeline := range config.Service.Pipelines {
			if name != "traces" && !strings.HasPrefix(name, "traces/") {
				continue
			}
			for _, e := range pipeline.Exporters {
				traceExporters[e] = true
			}
		}
	}

	dirSet := make(map[string]struct{})
	for name, exporter := range config.Exporters {
		if name != "file" && !strings.HasPrefix(name, "file/") || exporter.Path == "" {
			continue
		}
		if traceExporters != nil && !traceExporters[name] {
			continue
		}
		dirSet[filepath.Dir(exporter.Path)] = struct{}{}
	}

	dirs := make([]string, 0, len(dirSet))
	for dir := range dirSet {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs, nil
}
