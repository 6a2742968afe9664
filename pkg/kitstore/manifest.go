// Package kitstore implements the Kit Store: ingestion, versioned storage,
// and registry-fetch of kit archives under base_path/owner/kit_id/version.
package kitstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidSemver reports whether version matches the platform's strict X.Y.Z
// shape (no pre-release/build metadata suffixes).
func ValidSemver(version string) bool {
	return semverPattern.MatchString(version)
}

// compareSemver orders two validated X.Y.Z strings numerically tuple by
// tuple, matching the Python engine's `[int(x) for x in v.split('.')]`
// sort key.
func compareSemver(a, b string) int {
	av, bv := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < 3; i++ {
		an, _ := strconv.Atoi(av[i])
		bn, _ := strconv.Atoi(bv[i])
		if an != bn {
			return an - bn
		}
	}
	return 0
}

// EnvironmentVariable documents one declared env var a kit expects.
type EnvironmentVariable struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     string `yaml:"default"`
}

// AgentDecl maps a profile's agent slot to the Python class implementing it.
type AgentDecl struct {
	Name        string `yaml:"name"`
	Class       string `yaml:"class"`
	Description string `yaml:"description"`
}

// ActionRef is a "file:function" action reference, resolved to an absolute
// path once a kit is loaded from disk.
type ActionRef struct {
	Path         string `yaml:"path"` // "file:function" as declared in kit.yaml
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	FullFilePath string `yaml:"-"`
	FunctionName string `yaml:"-"`
}

func resolveActionRef(ref ActionRef, kitPath string) (ActionRef, error) {
	parts := strings.SplitN(ref.Path, ":", 2)
	if len(parts) != 2 {
		return ActionRef{}, platformerr.New(platformerr.MalformedKit,
			fmt.Sprintf("action path %q is not in \"file:function\" form", ref.Path))
	}
	ref.FullFilePath = kitPath + "/actions/" + parts[0] + ".py"
	ref.FunctionName = parts[1]
	return ref, nil
}

// InstructionItem names an instruction text file under instructions/.
type InstructionItem struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
	FullPath    string `yaml:"-"`
}

// Profile binds an agent slot to the actions and instructions it exposes.
type Profile struct {
	Agent        string   `yaml:"agent"`
	Instructions []string `yaml:"instructions"`
	Actions      []string `yaml:"actions"`
}

// Port is a requested container port; the Warm Container Pool chooses the
// actual host binding.
type Port struct {
	Number int    `yaml:"number"`
	Label  string `yaml:"label"`
}

// ProvideWorkspace marks that a kit offers its workspace to receivers.
type ProvideWorkspace struct {
	Description string `yaml:"description"`
}

// Provides lists the resources a kit exposes to modules with a provides
// edge pointing at it.
type Provides struct {
	Actions      []ActionRef        `yaml:"actions"`
	Instructions []InstructionItem  `yaml:"instructions"`
	Workspace    *ProvideWorkspace  `yaml:"workspace,omitempty"`
}

// Manifest is the parsed, validated kit.yaml plus the absolute paths
// resolved once the kit is loaded from base_path/owner/kit_id/version.
type Manifest struct {
	DocVersion         string               `yaml:"docVersion"`
	Owner              string               `yaml:"owner"`
	ID                 string               `yaml:"id"`
	Version            string               `yaml:"version"`
	Name               string               `yaml:"name"`
	BaseImage          string               `yaml:"image"`
	Environment        []EnvironmentVariable `yaml:"environment"`
	Agents             []AgentDecl          `yaml:"agents"`
	Profiles           map[string]Profile   `yaml:"profiles"`
	Provide            Provides             `yaml:"provide"`
	Dependencies       []string             `yaml:"dependencies"`
	Ports              []Port               `yaml:"ports"`
	WorkspaceSeedPaths []string             `yaml:"workspace_seed_paths"`
	IgnoreGlobs        []string             `yaml:"ignore_globs"`

	// KitPath is the absolute directory the manifest was loaded from; not
	// part of the YAML, filled in by Load/resolve.
	KitPath string `yaml:"-"`
}

// ParseManifest parses and validates raw kit.yaml bytes. It does not
// resolve absolute paths — call resolve with the kit's on-disk path for
// that (done by Store.GetKitConfig).
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, platformerr.Wrap(platformerr.MalformedKit, "parse kit.yaml", err)
	}

	if m.DocVersion != "v1" {
		return nil, platformerr.New(platformerr.MalformedKit,
			fmt.Sprintf("unsupported docVersion %q", m.DocVersion))
	}
	if m.Owner == "" || m.ID == "" || m.Version == "" {
		return nil, platformerr.New(platformerr.MalformedKit, "owner, id, and version are required")
	}
	if !ValidSemver(m.Version) {
		return nil, platformerr.New(platformerr.InvalidVersion, fmt.Sprintf("invalid version %q", m.Version))
	}
	if m.BaseImage == "" {
		m.BaseImage = "python:3.11-slim"
	}

	return &m, nil
}

// resolve fills in every absolute filesystem path referenced by the
// manifest's actions and instructions, and checks every profile action
// has the "file:function" form. It does not check that action files
// exist on disk.
func (m *Manifest) resolve(kitPath string) error {
	m.KitPath = kitPath

	for i, ref := range m.Provide.Actions {
		resolved, err := resolveActionRef(ref, kitPath)
		if err != nil {
			return err
		}
		m.Provide.Actions[i] = resolved
	}
	for i, item := range m.Provide.Instructions {
		m.Provide.Instructions[i].FullPath = kitPath + "/instructions/" + item.Path
	}

	for name, profile := range m.Profiles {
		for _, actionPath := range profile.Actions {
			parts := strings.SplitN(actionPath, ":", 2)
			if len(parts) != 2 {
				return platformerr.New(platformerr.MalformedKit,
					fmt.Sprintf("profile %q action %q is not in \"file:function\" form", name, actionPath))
			}
		}
	}

	return nil
}
