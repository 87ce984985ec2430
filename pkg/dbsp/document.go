package dbsp

import (
	"encoding/json"
	"fmt"
)

// Document represents an unstructured tuple as map[string]any. Documents can contain embedded
// maps, slices and primitives (int64, float64, string, bool). Two documents are equal iff their
// canonical JSON representations are equal.
type Document = map[string]any

// NewDocument creates a new empty document.
func NewDocument() Document { return make(Document) }

// NewDocumentFromPairs creates a new document from key-value pairs.
func NewDocumentFromPairs(pairs ...any) (Document, error) {
	if len(pairs)%2 != 0 {
		return nil, newZSetError("NewDocumentFromPairs requires an even number of arguments (key-value pairs)", nil)
	}

	doc := make(Document, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, newZSetError(fmt.Sprintf("key at position %d must be a string", i), nil)
		}
		doc[key] = pairs[i+1]
	}

	return doc, nil
}

// computeJSONKey creates a deterministic JSON representation for document identity. This is the
// function that defines document equality. Map keys are sorted by the JSON encoder.
func computeJSONKey(doc Document) (string, error) {
	bytes, err := json.Marshal(doc)
	if err != nil {
		return "", newZSetError("failed to marshal document to JSON", err)
	}

	return string(bytes), nil
}

// computeJSONAny creates a deterministic JSON representation for an arbitrary value.
func computeJSONAny(v any) (string, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value to JSON: %w", err)
	}

	return string(bytes), nil
}

// DeepEqual checks if two documents are equal using JSON comparison.
func DeepEqual(a, b Document) (bool, error) {
	keyA, err := computeJSONKey(a)
	if err != nil {
		return false, newZSetError("failed to compute key for first document", err)
	}

	keyB, err := computeJSONKey(b)
	if err != nil {
		return false, newZSetError("failed to compute key for second document", err)
	}

	return keyA == keyB, nil
}

// DeepCopyAny creates a deep copy of a nested structure of maps, slices and primitives.
func DeepCopyAny(val any) any {
	switch v := val.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, subVal := range v {
			result[k] = DeepCopyAny(subVal)
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, subVal := range v {
			result[i] = DeepCopyAny(subVal)
		}
		return result

	default:
		// primitives are immutable
		return v
	}
}

// DeepCopyDocument creates a deep copy of a document.
func DeepCopyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	return DeepCopyAny(doc).(map[string]any)
}
