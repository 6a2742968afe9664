package profilestore

import (
	"sort"
	"strings"
)

// Op is a comparison operator in a value filter.
type Op string

const (
	OpEq       Op = "eq"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpIn       Op = "in"
	OpContains Op = "contains"
)

// CombineOp joins a filter's SubFilters together.
type CombineOp string

const (
	CombineAnd CombineOp = "and"
	CombineOr  CombineOp = "or"
)

// ValueFilter is one "field.path": {op: rhs} clause.
type ValueFilter struct {
	Field string      `json:"field"`
	Op    Op          `json:"op"`
	RHS   interface{} `json:"rhs"`
}

// Filter is a composable query over a document collection: its own
// value filters, combined with any SubFilters via CombineOp, plus
// sort/page directives applied after matching.
type Filter struct {
	ValueFilters []ValueFilter `json:"value_filters,omitempty"`
	SubFilters   []Filter      `json:"sub_filters,omitempty"`
	CombineOp    CombineOp     `json:"combine_op,omitempty"` // defaults to CombineAnd when SubFilters is non-empty
	SortBy       string        `json:"sort_by,omitempty"`    // field path; empty means no sort
	SortDesc     bool          `json:"sort_desc,omitempty"`
	Limit        int           `json:"limit,omitempty"` // 0 means unlimited
	Offset       int           `json:"offset,omitempty"`
}

// applyFilter returns the subset of docs that match filter.
func applyFilter(docs []Document, filter Filter) []Document {
	var matched []Document
	for _, doc := range docs {
		if matches(doc.Value, filter) {
			matched = append(matched, doc)
		}
	}
	return matched
}

// matches evaluates filter against value bottom-up: a document's own
// ValueFilters must all hold, and then its SubFilters are combined with
// CombineOp (default AND) against that result.
func matches(value map[string]interface{}, filter Filter) bool {
	for _, vf := range filter.ValueFilters {
		if !matchesValueFilter(value, vf) {
			return false
		}
	}

	if len(filter.SubFilters) == 0 {
		return true
	}

	combine := filter.CombineOp
	if combine == "" {
		combine = CombineAnd
	}

	for _, sub := range filter.SubFilters {
		ok := matches(value, sub)
		if combine == CombineOr && ok {
			return true
		}
		if combine == CombineAnd && !ok {
			return false
		}
	}
	return combine == CombineAnd
}

func matchesValueFilter(value map[string]interface{}, vf ValueFilter) bool {
	actual, ok := lookupPath(value, vf.Field)
	if !ok {
		return false
	}
	switch vf.Op {
	case OpEq:
		return compareEqual(actual, vf.RHS)
	case OpLt:
		cmp, ok := compareOrdered(actual, vf.RHS)
		return ok && cmp < 0
	case OpLte:
		cmp, ok := compareOrdered(actual, vf.RHS)
		return ok && cmp <= 0
	case OpGt:
		cmp, ok := compareOrdered(actual, vf.RHS)
		return ok && cmp > 0
	case OpGte:
		cmp, ok := compareOrdered(actual, vf.RHS)
		return ok && cmp >= 0
	case OpIn:
		rhsList, ok := vf.RHS.([]interface{})
		if !ok {
			return false
		}
		for _, candidate := range rhsList {
			if compareEqual(actual, candidate) {
				return true
			}
		}
		return false
	case OpContains:
		switch typed := actual.(type) {
		case string:
			rhsStr, ok := vf.RHS.(string)
			return ok && strings.Contains(typed, rhsStr)
		case []interface{}:
			for _, elem := range typed {
				if compareEqual(elem, vf.RHS) {
					return true
				}
			}
			return false
		default:
			return false
		}
	default:
		return false
	}
}

// lookupPath resolves a dotted field path ("a.b.c") through nested maps.
func lookupPath(value map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = value
	for _, seg := range segments {
		asMap, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = asMap[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compareEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func compareOrdered(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func sortDocuments(docs []Document, sortBy string, desc bool) []Document {
	if sortBy == "" {
		return docs
	}
	sorted := make([]Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		vi, _ := lookupPath(sorted[i].Value, sortBy)
		vj, _ := lookupPath(sorted[j].Value, sortBy)
		cmp, ok := compareOrdered(vi, vj)
		if !ok {
			return false
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return sorted
}

func paginate(docs []Document, offset, limit int) []Document {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(docs) {
		return nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}
