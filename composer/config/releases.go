package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"kiln.build/core/composer/models"
)

// LoadReleases reads the releases file and returns the specs keyed
// by release identifier. Per-release git repo and directory
// templates fall back to the pipeline-wide defaults.
func LoadReleases(path string, defaults Pipelines) (map[string]models.ReleaseSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading releases file: %w", err)
	}

	var specs []models.ReleaseSpec
	if err := yaml.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("parsing releases file: %w", err)
	}

	releases := make(map[string]models.ReleaseSpec, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("release with no name in %s", path)
		}
		if _, ok := releases[spec.Name]; ok {
			return nil, fmt.Errorf("duplicate release %q in %s", spec.Name, path)
		}
		if spec.GitRepo == "" {
			spec.GitRepo = defaults.GitRepo
		}
		if spec.GitBranch == "" {
			spec.GitBranch = spec.Name
		}
		if spec.OutputDir == "" {
			spec.OutputDir = defaults.OutputDir
		}
		if spec.LogDir == "" {
			spec.LogDir = defaults.LogDir
		}
		releases[spec.Name] = spec
	}

	return releases, nil
}
