package funcparser

import "strings"

// parseTypeAnnotation translates a Python type annotation's source text
// into its JSON-schema fragment, per the source-to-schema mapping table:
// str/int/float/bool scalars, list[T], dict[K,V], optional[T], union[…],
// literal[…], and an object fallback for anything unrecognized.
func parseTypeAnnotation(text string) map[string]interface{} {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]interface{}{"type": "object"}
	}

	head, args, hasArgs := splitGeneric(text)
	lowerHead := strings.ToLower(head)

	switch lowerHead {
	case "str", "string":
		return map[string]interface{}{"type": "string"}
	case "int", "integer":
		return map[string]interface{}{"type": "integer"}
	case "float", "number":
		return map[string]interface{}{"type": "number"}
	case "bool", "boolean":
		return map[string]interface{}{"type": "boolean"}
	case "any", "object", "dict", "list", "tuple", "set":
		if !hasArgs {
			switch lowerHead {
			case "dict":
				return map[string]interface{}{"type": "object"}
			case "list", "tuple", "set":
				return map[string]interface{}{"type": "array"}
			default:
				return map[string]interface{}{"type": "object"}
			}
		}
	}

	switch lowerHead {
	case "list", "sequence", "set", "frozenset":
		itemType := "object"
		var itemSchema map[string]interface{}
		if hasArgs {
			itemSchema = parseTypeAnnotation(args[0])
		} else {
			itemSchema = map[string]interface{}{"type": itemType}
		}
		return map[string]interface{}{"type": "array", "items": itemSchema}

	case "dict", "mapping":
		if len(args) >= 2 {
			return map[string]interface{}{
				"type":                 "object",
				"additionalProperties": parseTypeAnnotation(args[1]),
			}
		}
		return map[string]interface{}{"type": "object"}

	case "tuple":
		items := make([]map[string]interface{}, 0, len(args))
		for _, a := range args {
			items = append(items, parseTypeAnnotation(a))
		}
		return map[string]interface{}{
			"type":     "array",
			"items":    items,
			"minItems": len(items),
			"maxItems": len(items),
		}

	case "optional":
		var inner map[string]interface{}
		if hasArgs {
			inner = parseTypeAnnotation(args[0])
		} else {
			inner = map[string]interface{}{"type": "object"}
		}
		return withNull(inner)

	case "union":
		return parseUnion(args)

	case "literal":
		enum := make([]string, 0, len(args))
		for _, a := range args {
			enum = append(enum, strings.Trim(strings.TrimSpace(a), `"'`))
		}
		return map[string]interface{}{"type": "string", "enum": enum}
	}

	return map[string]interface{}{"type": "object"}
}

// withNull adds "null" to a schema's type, turning a scalar "type" into
// a ["type", "null"] list (or appending to an existing list).
func withNull(schema map[string]interface{}) map[string]interface{} {
	switch t := schema["type"].(type) {
	case string:
		schema["type"] = []string{t, "null"}
	case []string:
		for _, existing := range t {
			if existing == "null" {
				return schema
			}
		}
		schema["type"] = append(t, "null")
	}
	return schema
}

// parseUnion builds a oneOf schema across the union's members, folding a
// bare None member into a "null" entry on the type list instead of a
// oneOf branch.
func parseUnion(args []string) map[string]interface{} {
	var branches []map[string]interface{}
	hasNone := false
	for _, a := range args {
		trimmed := strings.TrimSpace(a)
		if strings.EqualFold(trimmed, "none") || strings.EqualFold(trimmed, "nonetype") {
			hasNone = true
			continue
		}
		branches = append(branches, parseTypeAnnotation(trimmed))
	}
	if len(branches) == 0 {
		return map[string]interface{}{"type": "object"}
	}
	if len(branches) == 1 {
		if hasNone {
			return withNull(branches[0])
		}
		return branches[0]
	}
	result := map[string]interface{}{"oneOf": branches}
	if hasNone {
		result["type"] = []string{"null"}
	}
	return result
}

// splitGeneric splits "Head[a, b, c]" into ("Head", ["a","b","c"], true),
// or returns (text, nil, false) when there is no bracketed argument list.
// Argument splitting respects nested [](){} so "dict[str, list[int]]"
// yields two top-level arguments.
func splitGeneric(text string) (string, []string, bool) {
	open := strings.IndexByte(text, '[')
	if open == -1 || !strings.HasSuffix(text, "]") {
		return text, nil, false
	}
	head := strings.TrimSpace(text[:open])
	inner := text[open+1 : len(text)-1]
	return head, splitTopLevel(inner, ','), true
}

// splitTopLevel splits s on sep, ignoring separators nested inside
// (), [], or {}.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	last := strings.TrimSpace(s[start:])
	if last != "" {
		parts = append(parts, last)
	}
	return parts
}
