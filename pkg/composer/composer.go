// Package composer implements the Profile Composer: for one module's
// profile, it merges the kit's own intrinsic tools and instructions with
// whatever another module's kit exposes across a provides edge, and
// builds the single tool/instruction set an agent run receives.
package composer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/genbase-project/genbase/pkg/funcparser"
	"github.com/genbase-project/genbase/pkg/kitstore"
	"github.com/genbase-project/genbase/pkg/module"
	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/provides"
)

// externalToolPrefix marks a provided tool's mangled name, so the bridge
// can recognize it and route execute_external_tool back to its provider.
const externalToolPrefix = "external_"

// Tool is one callable action surfaced to an agent, either intrinsic to
// the module's own kit or provided by another module.
type Tool struct {
	Name         string
	Description  string
	Descriptor   funcparser.Descriptor
	ProviderID   string // set on provided tools; empty for intrinsic ones
	ProviderPath string // the provider's own action reference, for routing
}

// Composed is the full tool/instruction set ready to hand to an agent
// run for one module's profile.
type Composed struct {
	Tools        []Tool
	Instructions string
}

type moduleLookup interface {
	GetModule(ctx context.Context, moduleID string) (module.Module, error)
}

type kitLookup interface {
	GetKitConfig(owner, kitID, version string) (*kitstore.Manifest, error)
}

type providesLookup interface {
	ListProvidersToReceiver(ctx context.Context, receiverID string, kind provides.ResourceKind) ([]provides.Edge, error)
}

// Composer builds a module's effective profile by combining intrinsic
// kit content with whatever provides edges grant it.
type Composer struct {
	modules moduleLookup
	kits    kitLookup
	edges   providesLookup
}

// New wires a Composer over the Module Registry, Kit Store, and Provides
// Graph.
func New(modules *module.Registry, kits *kitstore.Store, edges *provides.Graph) *Composer {
	return &Composer{modules: modules, kits: kits, edges: edges}
}

func newComposerWithBackends(modules moduleLookup, kits kitLookup, edges providesLookup) *Composer {
	return &Composer{modules: modules, kits: kits, edges: edges}
}

// Compose builds the tool/instruction set for moduleID's profile.
func (c *Composer) Compose(ctx context.Context, moduleID, profileName string) (Composed, error) {
	mod, err := c.modules.GetModule(ctx, moduleID)
	if err != nil {
		return Composed{}, err
	}
	manifest, err := c.kits.GetKitConfig(mod.Owner, mod.KitID, mod.Version)
	if err != nil {
		return Composed{}, err
	}
	profile, ok := manifest.Profiles[profileName]
	if !ok {
		return Composed{}, platformerr.New(platformerr.CompositionError,
			fmt.Sprintf("kit %s/%s@%s has no profile %q", mod.Owner, mod.KitID, mod.Version, profileName))
	}

	intrinsicTools, err := c.intrinsicTools(manifest, profile)
	if err != nil {
		return Composed{}, err
	}
	instructions, err := c.intrinsicInstructions(manifest, profile)
	if err != nil {
		return Composed{}, err
	}

	seen := make(map[string]bool, len(intrinsicTools))
	tools := make([]Tool, 0, len(intrinsicTools))
	for _, t := range intrinsicTools {
		if seen[t.Name] {
			return Composed{}, platformerr.New(platformerr.CompositionError,
				fmt.Sprintf("duplicate intrinsic tool name %q in kit %s/%s", t.Name, mod.Owner, mod.KitID))
		}
		seen[t.Name] = true
		tools = append(tools, t)
	}

	edges, err := c.edges.ListProvidersToReceiver(ctx, moduleID, provides.KindTool)
	if err != nil {
		return Composed{}, err
	}

	var instructionBuilder strings.Builder
	instructionBuilder.WriteString(instructions)

	for _, edge := range edges {
		providerMod, err := c.modules.GetModule(ctx, edge.ProviderID)
		if err != nil {
			return Composed{}, err
		}
		providerManifest, err := c.kits.GetKitConfig(providerMod.Owner, providerMod.KitID, providerMod.Version)
		if err != nil {
			return Composed{}, err
		}

		for _, ref := range providerManifest.Provide.Actions {
			descriptor, err := parseProvidedAction(providerManifest, ref)
			if err != nil {
				return Composed{}, err
			}
			mangled := mangleName(edge.ProviderID, ref.Name)
			if seen[mangled] {
				return Composed{}, platformerr.New(platformerr.CompositionError,
					fmt.Sprintf("duplicate provided tool name %q from module %q", mangled, edge.ProviderID))
			}
			seen[mangled] = true
			tools = append(tools, Tool{
				Name:         mangled,
				Description:  fmt.Sprintf("[From module: %s] %s", edge.ProviderID, ref.Description),
				Descriptor:   descriptor,
				ProviderID:   edge.ProviderID,
				ProviderPath: ref.Path,
			})
		}
	}

	instructionEdges, err := c.edges.ListProvidersToReceiver(ctx, moduleID, provides.KindInstruction)
	if err != nil {
		return Composed{}, err
	}
	for _, edge := range instructionEdges {
		providerMod, err := c.modules.GetModule(ctx, edge.ProviderID)
		if err != nil {
			return Composed{}, err
		}
		providerManifest, err := c.kits.GetKitConfig(providerMod.Owner, providerMod.KitID, providerMod.Version)
		if err != nil {
			return Composed{}, err
		}
		for _, item := range providerManifest.Provide.Instructions {
			body, err := os.ReadFile(item.FullPath)
			if err != nil {
				return Composed{}, platformerr.Wrap(platformerr.CompositionError, "read provided instruction", err)
			}
			instructionBuilder.WriteString(fmt.Sprintf("\n\nProvided Instructions from Module: %s\n%s", edge.ProviderID, string(body)))
		}
	}

	return Composed{Tools: tools, Instructions: instructionBuilder.String()}, nil
}

func (c *Composer) intrinsicTools(manifest *kitstore.Manifest, profile kitstore.Profile) ([]Tool, error) {
	parser := funcparser.NewParser(manifest.KitPath + "/actions")
	tools := make([]Tool, 0, len(profile.Actions))
	for _, actionPath := range profile.Actions {
		parts := strings.SplitN(actionPath, ":", 2)
		if len(parts) != 2 {
			return nil, platformerr.New(platformerr.MalformedKit,
				fmt.Sprintf("action path %q is not in \"file:function\" form", actionPath))
		}
		descriptor, err := parser.ParseFunction(parts[0]+".py", parts[1])
		if err != nil {
			return nil, err
		}
		tools = append(tools, Tool{
			Name:        descriptor.Name,
			Description: descriptor.Description,
			Descriptor:  descriptor,
		})
	}
	return tools, nil
}

func (c *Composer) intrinsicInstructions(manifest *kitstore.Manifest, profile kitstore.Profile) (string, error) {
	var b strings.Builder
	for i, name := range profile.Instructions {
		body, err := os.ReadFile(manifest.KitPath + "/instructions/" + name)
		if err != nil {
			return "", platformerr.Wrap(platformerr.CompositionError, "read instruction", err)
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.Write(body)
	}
	return b.String(), nil
}

func parseProvidedAction(manifest *kitstore.Manifest, ref kitstore.ActionRef) (funcparser.Descriptor, error) {
	parts := strings.SplitN(ref.Path, ":", 2)
	if len(parts) != 2 {
		return funcparser.Descriptor{}, platformerr.New(platformerr.MalformedKit,
			fmt.Sprintf("provided action path %q is not in \"file:function\" form", ref.Path))
	}
	parser := funcparser.NewParser(manifest.KitPath + "/actions")
	return parser.ParseFunction(parts[0]+".py", parts[1])
}

func mangleName(providerID, name string) string {
	return MangleName(providerID, name)
}

// MangleName builds the name a provided tool is exposed under once it
// crosses a provides edge into a receiver's tool set.
func MangleName(providerID, name string) string {
	return fmt.Sprintf("%s%s_%s", externalToolPrefix, providerID, name)
}

// IsExternal reports whether name was produced by mangleName.
func IsExternal(name string) bool {
	return strings.HasPrefix(name, externalToolPrefix)
}

// UnmangleName recovers the provider module ID and the provider's own
// tool name from a name MangleName produced. Module IDs never contain
// underscores (see module.GenerateReadableUID), so the first underscore
// after the prefix marks the boundary.
func UnmangleName(mangled string) (providerID, name string, ok bool) {
	if !strings.HasPrefix(mangled, externalToolPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(mangled, externalToolPrefix)
	idx := strings.Index(rest, "_")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}
