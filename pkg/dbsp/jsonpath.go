package dbsp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ohler55/ojg/jp"
)

func parseJSONPath(query string) (jp.Expr, error) {
	// the root ref "$." is not handled by ojg/jp
	if query == "$." {
		query = "$"
	}
	expr, err := jp.ParseString(query)
	if err != nil {
		return nil, newZSetError(fmt.Sprintf("invalid JSONPath expression %q", query), err)
	}
	return expr, nil
}

// JSONPathExtractor extracts the first value matched by a JSONPath expression, e.g., a nested
// join or grouping key. The result is nil if nothing matches.
type JSONPathExtractor struct {
	query string
	expr  jp.Expr
}

// NewJSONPathExtractor parses a JSONPath expression into an extractor.
func NewJSONPathExtractor(query string) (*JSONPathExtractor, error) {
	expr, err := parseJSONPath(query)
	if err != nil {
		return nil, err
	}
	return &JSONPathExtractor{query: query, expr: expr}, nil
}

func (e *JSONPathExtractor) Extract(doc Document) (any, error) {
	values := e.expr.Get(doc)
	if len(values) == 0 {
		return nil, nil
	}
	return values[0], nil
}

func (e *JSONPathExtractor) String() string {
	return fmt.Sprintf("jsonpath('%s')", e.query)
}

// JSONPathProjection builds a new document from JSONPath expressions evaluated on the input:
// every output field is set to the first value matched by its expression. Fields whose
// expression matches nothing are left out.
type JSONPathProjection struct {
	fields []string
	exprs  map[string]*JSONPathExtractor
}

// NewJSONPathProjection creates a projection from a map of output fields to JSONPath expressions.
func NewJSONPathProjection(fields map[string]string) (*JSONPathProjection, error) {
	p := &JSONPathProjection{exprs: make(map[string]*JSONPathExtractor, len(fields))}
	for field, query := range fields {
		x, err := NewJSONPathExtractor(query)
		if err != nil {
			return nil, err
		}
		p.fields = append(p.fields, field)
		p.exprs[field] = x
	}
	sort.Strings(p.fields)
	return p, nil
}

func (p *JSONPathProjection) Evaluate(doc Document) ([]Document, error) {
	result := make(Document, len(p.fields))
	for _, field := range p.fields {
		v, err := p.exprs[field].Extract(doc)
		if err != nil {
			return nil, err
		}
		if v != nil {
			result[field] = DeepCopyAny(v)
		}
	}
	return []Document{result}, nil
}

func (p *JSONPathProjection) String() string {
	parts := make([]string, len(p.fields))
	for i, field := range p.fields {
		parts[i] = field + "=" + p.exprs[field].query
	}
	return "JSONPathProjection(" + strings.Join(parts, ",") + ")"
}
