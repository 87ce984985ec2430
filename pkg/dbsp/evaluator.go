package dbsp

import (
	"fmt"
	"strings"
)

// Evaluator transforms a document into zero or more documents. Maps, filters and flat-maps are
// all expressed as evaluators.
type Evaluator interface {
	Evaluate(Document) ([]Document, error)
	fmt.Stringer
}

// Extractor extracts a value from a document, e.g., a join key or a grouping key. A nil result
// means the value is absent.
type Extractor interface {
	Extract(Document) (any, error)
	fmt.Stringer
}

// Transformer transforms a document by setting or replacing fields.
type Transformer interface {
	Transform(doc Document, value any) (Document, error)
	fmt.Stringer
}

type evaluatorFunc struct {
	name string
	fn   func(Document) ([]Document, error)
}

// NewEvaluator wraps a function as a named evaluator.
func NewEvaluator(name string, fn func(Document) ([]Document, error)) Evaluator {
	return &evaluatorFunc{name: name, fn: fn}
}

// NewMapper wraps a one-to-one document function as an evaluator.
func NewMapper(name string, fn func(Document) (Document, error)) Evaluator {
	return &evaluatorFunc{name: name, fn: func(doc Document) ([]Document, error) {
		res, err := fn(doc)
		if err != nil {
			return nil, err
		}
		return []Document{res}, nil
	}}
}

// NewPredicate wraps a boolean condition as a filtering evaluator.
func NewPredicate(name string, fn func(Document) (bool, error)) Evaluator {
	return &evaluatorFunc{name: name, fn: func(doc Document) ([]Document, error) {
		ok, err := fn(doc)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []Document{doc}, nil
	}}
}

func (e *evaluatorFunc) Evaluate(doc Document) ([]Document, error) { return e.fn(doc) }
func (e *evaluatorFunc) String() string                            { return e.name }

// FieldProjection keeps the listed fields of a document.
type FieldProjection struct {
	fields []string
}

// NewFieldProjection creates a projection onto the given fields.
func NewFieldProjection(fields ...string) *FieldProjection {
	return &FieldProjection{fields: fields}
}

func (e *FieldProjection) Evaluate(doc Document) ([]Document, error) {
	result := Document{}
	for _, field := range e.fields {
		if value, exists := doc[field]; exists {
			result[field] = value
		}
	}
	return []Document{result}, nil
}

func (e *FieldProjection) String() string {
	return "FieldProjection(" + strings.Join(e.fields, ",") + ")"
}

// FieldFilter keeps the documents whose field equals a given value.
type FieldFilter struct {
	field string
	value any
	key   string
}

// NewFieldFilter creates an equality filter.
func NewFieldFilter(field string, value any) *FieldFilter {
	key, _ := computeJSONAny(value)
	return &FieldFilter{field: field, value: value, key: key}
}

func (e *FieldFilter) Evaluate(doc Document) ([]Document, error) {
	docValue, exists := doc[e.field]
	if !exists {
		return nil, nil
	}
	docKey, err := computeJSONAny(docValue)
	if err != nil {
		return nil, err
	}
	if docKey != e.key {
		return nil, nil
	}
	return []Document{doc}, nil
}

func (e *FieldFilter) String() string {
	return fmt.Sprintf("FieldFilter(%s = %v)", e.field, e.value)
}

// FieldExtractor extracts a top-level field from a document.
type FieldExtractor struct {
	fieldName string
}

// NewFieldExtractor creates an extractor for a field.
func NewFieldExtractor(fieldName string) *FieldExtractor {
	return &FieldExtractor{fieldName: fieldName}
}

func (e *FieldExtractor) Extract(doc Document) (any, error) {
	value, exists := doc[e.fieldName]
	if !exists {
		return nil, nil
	}
	return value, nil
}

func (e *FieldExtractor) String() string {
	return fmt.Sprintf("extract_field('%s')", e.fieldName)
}

// CompositeExtractor extracts a list of fields, used for multi-column keys.
type CompositeExtractor struct {
	fields []string
}

// NewCompositeExtractor creates an extractor for several fields. The result is nil if any of the
// fields is missing.
func NewCompositeExtractor(fields ...string) *CompositeExtractor {
	return &CompositeExtractor{fields: fields}
}

func (e *CompositeExtractor) Extract(doc Document) (any, error) {
	key := make([]any, 0, len(e.fields))
	for _, f := range e.fields {
		v, ok := doc[f]
		if !ok || v == nil {
			return nil, nil
		}
		key = append(key, v)
	}
	return key, nil
}

func (e *CompositeExtractor) String() string {
	return fmt.Sprintf("extract_fields(%s)", strings.Join(e.fields, ","))
}

// ArrayElementTransformer replaces an array field with one of its elements, used by Unwind.
type ArrayElementTransformer struct {
	originalField string
	newField      string
}

// NewArrayElementTransformer creates a transformer that drops originalField and stores the
// element under newField.
func NewArrayElementTransformer(originalField, newField string) *ArrayElementTransformer {
	return &ArrayElementTransformer{originalField: originalField, newField: newField}
}

func (t *ArrayElementTransformer) Transform(doc Document, value any) (Document, error) {
	result := make(Document, len(doc))
	for k, v := range doc {
		if k != t.originalField {
			result[k] = v
		}
	}
	result[t.newField] = value
	return result, nil
}

func (t *ArrayElementTransformer) String() string {
	return fmt.Sprintf("transform_array_element('%s' -> '%s')", t.originalField, t.newField)
}
