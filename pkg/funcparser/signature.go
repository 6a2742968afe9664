package funcparser

import (
	"regexp"
	"strings"
)

var defLine = regexp.MustCompile(`^(async\s+def|def)\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

type funcDef struct {
	name       string
	isAsync    bool
	paramsText string
	docstring  string
}

// findFunctionDef scans src for a top-level or class-level `def name(...)`
// / `async def name(...)`, reassembling a signature that spans multiple
// source lines, and pulls the immediately following docstring if present.
func findFunctionDef(src, name string) (funcDef, bool) {
	lines := strings.Split(src, "\n")

	for i := 0; i < len(lines); i++ {
		m := defLine.FindStringSubmatch(strings.TrimLeft(lines[i], " \t"))
		if m == nil || m[2] != name {
			continue
		}
		isAsync := strings.HasPrefix(m[1], "async")

		sigLines := []string{lines[i]}
		depth := strings.Count(lines[i], "(") - strings.Count(lines[i], ")")
		j := i
		for depth > 0 && j+1 < len(lines) {
			j++
			sigLines = append(sigLines, lines[j])
			depth += strings.Count(lines[j], "(") - strings.Count(lines[j], ")")
		}
		sigText := strings.Join(sigLines, "\n")

		paramsText := extractParenContents(sigText)
		docstring := extractDocstring(lines, j+1)

		return funcDef{name: name, isAsync: isAsync, paramsText: paramsText, docstring: docstring}, true
	}

	return funcDef{}, false
}

// extractParenContents returns the text between the first '(' and its
// matching ')' across a (possibly multi-line) signature.
func extractParenContents(sigText string) string {
	open := strings.IndexByte(sigText, '(')
	if open == -1 {
		return ""
	}
	depth := 0
	for i := open; i < len(sigText); i++ {
		switch sigText[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sigText[open+1 : i]
			}
		}
	}
	return sigText[open+1:]
}

// extractDocstring looks for the first non-blank statement after a def's
// header and, if it is a triple-quoted string, returns its contents.
func extractDocstring(lines []string, from int) string {
	i := from
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) {
		return ""
	}
	trimmed := strings.TrimSpace(lines[i])

	var quote string
	switch {
	case strings.HasPrefix(trimmed, `"""`):
		quote = `"""`
	case strings.HasPrefix(trimmed, `'''`):
		quote = `'''`
	default:
		return ""
	}

	rest := trimmed[len(quote):]
	if idx := strings.Index(rest, quote); idx != -1 {
		return strings.TrimSpace(rest[:idx])
	}

	var body []string
	body = append(body, rest)
	for j := i + 1; j < len(lines); j++ {
		if idx := strings.Index(lines[j], quote); idx != -1 {
			body = append(body, lines[j][:idx])
			return strings.TrimSpace(strings.Join(body, "\n"))
		}
		body = append(body, lines[j])
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}

// parseParams splits a parameter list's source text into individual
// parameter specs, skipping self/cls and *args/**kwargs catch-alls.
func parseParams(paramsText string) []paramSpec {
	chunks := splitTopLevel(paramsText, ',')
	var params []paramSpec

	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" || chunk == "self" || chunk == "cls" {
			continue
		}
		if strings.HasPrefix(chunk, "*") {
			continue
		}

		nameAndRest := chunk
		hasDefault := false
		annotation := ""

		if eq := splitTopLevelFirst(nameAndRest, '='); eq != -1 {
			hasDefault = true
			nameAndRest = nameAndRest[:eq]
		}
		if colon := splitTopLevelFirst(nameAndRest, ':'); colon != -1 {
			annotation = strings.TrimSpace(nameAndRest[colon+1:])
			nameAndRest = nameAndRest[:colon]
		}

		params = append(params, paramSpec{
			name:       strings.TrimSpace(nameAndRest),
			annotation: annotation,
			hasDefault: hasDefault,
		})
	}

	return params
}

func splitTopLevelFirst(s string, sep byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
