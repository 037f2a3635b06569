package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ReleaseSpec is one operator-configured release, loaded once at
// startup from the releases file and never mutated afterwards.
type ReleaseSpec struct {
	Name      string         `yaml:"name"`
	GitRepo   string         `yaml:"git_repo"`
	GitBranch string         `yaml:"git_branch"`
	Mock      string         `yaml:"mock"`
	Tree      string         `yaml:"tree"`
	Arch      string         `yaml:"arch"`
	OutputDir string         `yaml:"output_dir"`
	LogDir    string         `yaml:"log_dir"`
	Treefile  map[string]any `yaml:"treefile"`
}

// RunContext is the per-run working copy of a ReleaseSpec: a deep
// copy of the spec plus the scratch layout for exactly one compose.
// It is owned by a single pipeline run and never shared.
type RunContext struct {
	ReleaseSpec

	UID        string
	Topic      string
	ScratchDir string
	CloneDir   string
	MockDir    string
}

// NewRunContext deep-copies spec, allocates a fresh scratch
// directory and expands the output/log directory templates. The
// scratch directory exists on disk when this returns without error,
// so allocation failures surface before any run is scheduled.
func NewRunContext(spec ReleaseSpec, topic string) (*RunContext, error) {
	scratch, err := os.MkdirTemp("", "kiln-"+spec.Name+"-")
	if err != nil {
		return nil, fmt.Errorf("allocating scratch dir: %w", err)
	}

	rc := &RunContext{
		ReleaseSpec: spec,
		UID:         uuid.NewString(),
		Topic:       topic,
		ScratchDir:  scratch,
		CloneDir:    filepath.Join(scratch, repoBaseName(spec.GitRepo)),
		MockDir:     filepath.Join(scratch, "mock"),
	}
	rc.Treefile = deepCopyTreefile(spec.Treefile)
	rc.OutputDir = rc.Expand(spec.OutputDir)
	rc.LogDir = rc.Expand(spec.LogDir)

	return rc, nil
}

// Expand substitutes the {name}, {tree}, {arch} and {mock} fields of
// a directory template with this run's values.
func (rc *RunContext) Expand(tmpl string) string {
	r := strings.NewReplacer(
		"{name}", rc.Name,
		"{tree}", rc.Tree,
		"{arch}", rc.Arch,
		"{mock}", rc.Mock,
	)
	return r.Replace(tmpl)
}

// RepoPath is where this release's ostree repository lives.
func (rc *RunContext) RepoPath() string {
	return filepath.Join(rc.OutputDir, rc.Tree)
}

// TreefilePath is where the serialized manifest is written before
// the compose, inside the working clone.
func (rc *RunContext) TreefilePath() string {
	return filepath.Join(rc.CloneDir, "treefile.json")
}

// MockConfigPath is the rendered chroot config for this run.
func (rc *RunContext) MockConfigPath() string {
	return filepath.Join(rc.MockDir, rc.Mock+".cfg")
}

// Cleanup removes the scratch directory. Safe to call more than
// once; only the first call does work.
func (rc *RunContext) Cleanup() error {
	if rc.ScratchDir == "" {
		return nil
	}
	dir := rc.ScratchDir
	rc.ScratchDir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing scratch dir: %w", err)
	}
	return nil
}

func repoBaseName(repo string) string {
	base := filepath.Base(strings.TrimSuffix(repo, "/"))
	return strings.TrimSuffix(base, ".git")
}

func deepCopyTreefile(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyTreefile(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
