package funcparser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

// agentBaseClassName is the base class every kit agent must derive from
// for its tool-marked methods to be discoverable without running a
// container.
const agentBaseClassName = "BaseAgent"

// toolDecoratorName is the decorator that marks an agent method as a
// callable tool.
const toolDecoratorName = "tool"

var classDefRe = regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)\s*:`)
var decoratorRe = regexp.MustCompile(`^@([A-Za-z_][A-Za-z0-9_.]*)`)
var methodDefRe = regexp.MustCompile(`^(async\s+def|def)\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// ProbeToolSchema implements get_agent_tools_schema: it locates the agent
// class for a profile without spawning a container, by scanning
// module/agents/__init__.py first, then every peer .py file, for a class
// deriving from agentBaseClassName and returning a Descriptor for each of
// its tool-marked methods.
func ProbeToolSchema(agentsDir, className string) ([]Descriptor, error) {
	candidates := []string{"__init__.py"}
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.FunctionNotFound, "read agents directory", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".py") || e.Name() == "__init__.py" {
			continue
		}
		candidates = append(candidates, e.Name())
	}

	for _, rel := range candidates {
		path := filepath.Join(agentsDir, rel)
		src, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if descriptors, found := scanAgentClass(string(src), className); found {
			return descriptors, nil
		}
	}

	return nil, platformerr.New(platformerr.FunctionNotFound,
		fmt.Sprintf("agent class %q not found under %s", className, agentsDir))
}

// scanAgentClass finds a class named className deriving from
// agentBaseClassName and collects a Descriptor for every method
// immediately preceded by a @tool decorator.
func scanAgentClass(src, className string) ([]Descriptor, bool) {
	lines := strings.Split(src, "\n")

	classIndent := -1
	inTarget := false
	var pendingDecorators []string
	var descriptors []Descriptor

	for i := 0; i < len(lines); i++ {
		raw := lines[i]
		trimmed := strings.TrimLeft(raw, " \t")
		indent := len(raw) - len(trimmed)

		if m := classDefRe.FindStringSubmatch(trimmed); m != nil {
			if inTarget && indent <= classIndent {
				break
			}
			if m[1] == className && classHasBase(m[2], agentBaseClassName) {
				inTarget = true
				classIndent = indent
			}
			pendingDecorators = nil
			continue
		}

		if !inTarget {
			continue
		}
		if indent <= classIndent && trimmed != "" {
			break
		}

		if m := decoratorRe.FindStringSubmatch(trimmed); m != nil {
			pendingDecorators = append(pendingDecorators, lastSegment(m[1]))
			continue
		}

		if m := methodDefRe.FindStringSubmatch(trimmed); m != nil {
			marked := containsDecorator(pendingDecorators, toolDecoratorName)
			pendingDecorators = nil
			if !marked {
				continue
			}
			methodName := m[2]
			if def, found := findFunctionDef(src, methodName); found {
				descriptors = append(descriptors, buildDescriptor(def))
			}
		}
	}

	return descriptors, inTarget
}

func classHasBase(baseList, target string) bool {
	for _, b := range splitTopLevel(baseList, ',') {
		if lastSegment(strings.TrimSpace(b)) == target {
			return true
		}
	}
	return false
}

func lastSegment(dotted string) string {
	if idx := strings.LastIndex(dotted, "."); idx != -1 {
		return dotted[idx+1:]
	}
	return dotted
}

func containsDecorator(decorators []string, name string) bool {
	for _, d := range decorators {
		if d == name {
			return true
		}
	}
	return false
}
