package funcparser

import (
	"regexp"
	"strings"
)

// extractDescription returns a docstring's first paragraph (the text up
// to the first blank line), with internal newlines collapsed to spaces.
func extractDescription(docstring string) string {
	docstring = strings.TrimSpace(docstring)
	if docstring == "" {
		return ""
	}
	paragraph := docstring
	if idx := strings.Index(docstring, "\n\n"); idx != -1 {
		paragraph = docstring[:idx]
	}
	lines := strings.Split(paragraph, "\n")
	trimmed := make([]string, 0, len(lines))
	for _, l := range lines {
		trimmed = append(trimmed, strings.TrimSpace(l))
	}
	return strings.TrimSpace(strings.Join(trimmed, " "))
}

var (
	googleArgsHeader  = regexp.MustCompile(`(?i)^(args|arguments|params|parameters):\s*$`)
	numpyParamsHeader = regexp.MustCompile(`(?i)^parameters\s*$`)
	numpyUnderline    = regexp.MustCompile(`^-+$`)
	sectionHeader     = regexp.MustCompile(`(?i)^(returns|raises|yields|examples|notes|see also|attributes):?\s*$`)
	googleParamLine   = regexp.MustCompile(`^(\*{0,2}\w+)\s*(?:\(([^)]*)\))?\s*:\s*(.*)$`)
	numpyParamLine    = regexp.MustCompile(`^(\w+)\s*:\s*(.*)$`)
)

// extractParamDescriptions scans a docstring for a Google-style Args:
// block or a Numpy/reST-style Parameters block and returns a
// name->description map. Missing or unparseable docstrings yield an
// empty map; callers fall back to "Parameter <name>".
func extractParamDescriptions(docstring string) map[string]string {
	descriptions := map[string]string{}
	if docstring == "" {
		return descriptions
	}
	lines := strings.Split(docstring, "\n")

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])

		if googleArgsHeader.MatchString(trimmed) {
			i = collectGoogleParams(lines, i+1, descriptions)
			continue
		}

		if numpyParamsHeader.MatchString(trimmed) && i+1 < len(lines) && numpyUnderline.MatchString(strings.TrimSpace(lines[i+1])) {
			i = collectNumpyParams(lines, i+2, descriptions)
			continue
		}
	}

	return descriptions
}

func collectGoogleParams(lines []string, start int, out map[string]string) int {
	i := start
	var currentName string
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			return i
		}
		if sectionHeader.MatchString(trimmed) {
			return i - 1
		}
		if m := googleParamLine.FindStringSubmatch(trimmed); m != nil {
			currentName = strings.TrimPrefix(strings.TrimPrefix(m[1], "**"), "*")
			out[currentName] = strings.TrimSpace(m[3])
			continue
		}
		if currentName != "" {
			out[currentName] = strings.TrimSpace(out[currentName] + " " + trimmed)
		}
	}
	return i
}

func collectNumpyParams(lines []string, start int, out map[string]string) int {
	i := start
	var currentName string
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			return i
		}
		if sectionHeader.MatchString(trimmed) {
			return i - 1
		}
		if m := numpyParamLine.FindStringSubmatch(lines[i]); m != nil && !strings.HasPrefix(lines[i], "    ") {
			currentName = m[1]
			out[currentName] = ""
			continue
		}
		if currentName != "" {
			out[currentName] = strings.TrimSpace(out[currentName] + " " + trimmed)
		}
	}
	return i
}
