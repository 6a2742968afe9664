package funcparser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

// Parser resolves functions within one kit's actions directory.
type Parser struct {
	actionsDir string
}

// NewParser roots a Parser at a kit's actions directory (kit_actions_dir).
func NewParser(actionsDir string) *Parser {
	return &Parser{actionsDir: actionsDir}
}

var importFromRe = regexp.MustCompile(`(?m)^\s*from\s+([.\w]+)\s+import\s+(.+)$`)

const maxImportChainDepth = 8

// ParseFunction resolves (fileRelPath, functionName) to a Descriptor,
// following `from X import name` re-exports up to maxImportChainDepth
// hops before giving up with FunctionNotFound.
func (p *Parser) ParseFunction(fileRelPath, functionName string) (Descriptor, error) {
	return p.resolve(fileRelPath, functionName, 0)
}

func (p *Parser) resolve(fileRelPath, functionName string, depth int) (Descriptor, error) {
	if depth > maxImportChainDepth {
		return Descriptor{}, platformerr.New(platformerr.FunctionNotFound,
			fmt.Sprintf("import chain exceeded %d hops resolving %s:%s", maxImportChainDepth, fileRelPath, functionName))
	}

	absPath := filepath.Join(p.actionsDir, fileRelPath)
	src, err := os.ReadFile(absPath)
	if err != nil {
		return Descriptor{}, platformerr.Wrap(platformerr.FunctionNotFound,
			fmt.Sprintf("read %s", fileRelPath), err)
	}
	text := string(src)

	if def, found := findFunctionDef(text, functionName); found {
		return buildDescriptor(def), nil
	}

	if nextFile, ok := resolveReExport(text, functionName, fileRelPath, p.actionsDir); ok {
		return p.resolve(nextFile, functionName, depth+1)
	}

	return Descriptor{}, platformerr.New(platformerr.FunctionNotFound,
		fmt.Sprintf("function %q not found in %s or its import chain", functionName, fileRelPath))
}

// resolveReExport looks for "from X import ..., name, ..." in text and,
// if functionName is one of the imported names, maps module path X to a
// file under actionsDir relative to fileRelPath's directory.
func resolveReExport(text, functionName, fileRelPath, actionsDir string) (string, bool) {
	for _, m := range importFromRe.FindAllStringSubmatch(text, -1) {
		modulePath := m[1]
		names := strings.Split(m[2], ",")
		matched := false
		for _, n := range names {
			n = strings.TrimSpace(n)
			n = strings.TrimPrefix(n, "(")
			n = strings.TrimSuffix(n, ")")
			if alias := strings.Fields(n); len(alias) == 3 && alias[1] == "as" {
				if alias[2] == functionName {
					functionName = alias[0]
					matched = true
					break
				}
				continue
			}
			if n == functionName {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		candidate := modulePathToFile(modulePath, fileRelPath)
		if candidate == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(actionsDir, candidate)); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// modulePathToFile maps a Python import's dotted/relative module path to
// a .py file relative to actionsDir, resolving leading dots against
// fromFile's directory.
func modulePathToFile(modulePath, fromFile string) string {
	dir := filepath.Dir(fromFile)
	leadingDots := 0
	for leadingDots < len(modulePath) && modulePath[leadingDots] == '.' {
		leadingDots++
	}
	rest := modulePath[leadingDots:]

	base := dir
	for i := 1; i < leadingDots; i++ {
		base = filepath.Dir(base)
	}
	if leadingDots == 0 {
		base = "."
	}

	if rest == "" {
		return filepath.Join(base, "__init__.py")
	}
	return filepath.Join(base, filepath.FromSlash(strings.ReplaceAll(rest, ".", "/"))) + ".py"
}

func buildDescriptor(def funcDef) Descriptor {
	schema := newParameterSchema()
	description := extractDescription(def.docstring)
	paramDocs := extractParamDescriptions(def.docstring)

	for _, param := range parseParams(def.paramsText) {
		paramSchema := parseTypeAnnotation(param.annotation)
		if desc, ok := paramDocs[param.name]; ok && desc != "" {
			paramSchema["description"] = desc
		} else {
			paramSchema["description"] = fmt.Sprintf("Parameter %s", param.name)
		}
		schema.Properties[param.name] = paramSchema
		if !param.hasDefault {
			schema.Required = append(schema.Required, param.name)
		}
	}

	if description == "" {
		description = fmt.Sprintf("Execute the %s action", def.name)
	}

	return Descriptor{
		Name:        def.name,
		Description: description,
		IsAsync:     def.isAsync,
		Parameters:  schema,
	}
}
