package dbsp

import (
	"fmt"
	"sort"
	"strings"
)

// DocumentZSet implements Z-sets for atomic documents: a finite map from documents to nonzero
// integer weights. Documents are treated as opaque units, identified by their canonical JSON key.
//
// Z-sets are values: all algebraic operations return a new Z-set and never modify their
// receiver or their arguments. The only mutating method is AddDocumentMutate, which must only be
// used to populate a Z-set that has not been handed out yet.
type DocumentZSet struct {
	docs   map[string]Document // JSON key -> original document
	counts map[string]int      // JSON key -> multiplicity, never 0
}

// DocumentEntry represents a document with its multiplicity in a Z-set.
type DocumentEntry struct {
	Document     Document
	Multiplicity int
}

// NewDocumentZSet creates an empty DocumentZSet, the zero of the Z-set group.
func NewDocumentZSet() *DocumentZSet {
	return &DocumentZSet{
		docs:   make(map[string]Document),
		counts: make(map[string]int),
	}
}

func newDocumentZSetWithCap(n int) *DocumentZSet {
	return &DocumentZSet{
		docs:   make(map[string]Document, n),
		counts: make(map[string]int, n),
	}
}

// SingletonZSet creates a Z-set containing a single document with multiplicity 1.
func SingletonZSet(doc Document) (*DocumentZSet, error) {
	return NewDocumentZSet().AddDocument(doc, 1)
}

// FromDocuments creates a Z-set from a slice of documents (each with multiplicity 1).
func FromDocuments(docs []Document) (*DocumentZSet, error) {
	result := newDocumentZSetWithCap(len(docs))
	for i, doc := range docs {
		if err := result.AddDocumentMutate(doc, 1); err != nil {
			return nil, newZSetError(fmt.Sprintf("failed to add document at index %d", i), err)
		}
	}
	return result, nil
}

// Consolidate builds a Z-set from an unordered batch of weighted documents: weights of equal
// documents are summed and entries whose weights cancel are dropped.
func Consolidate(batch []DocumentEntry) (*DocumentZSet, error) {
	result := newDocumentZSetWithCap(len(batch))
	for i, e := range batch {
		if err := result.AddDocumentMutate(e.Document, e.Multiplicity); err != nil {
			return nil, newZSetError(fmt.Sprintf("failed to consolidate entry at index %d", i), err)
		}
	}
	return result, nil
}

// AddDocument adds a document to the Z-set with the given multiplicity and returns the result as
// a new Z-set.
func (dz *DocumentZSet) AddDocument(doc Document, count int) (*DocumentZSet, error) {
	result := dz.ShallowCopy()
	if err := result.AddDocumentMutate(doc, count); err != nil {
		return nil, err
	}
	return result, nil
}

// AddDocumentMutate adds a document to the Z-set with the given multiplicity by modifying the
// Z-set in place.
func (dz *DocumentZSet) AddDocumentMutate(doc Document, count int) error {
	if count == 0 {
		return nil
	}

	key, err := computeJSONKey(doc)
	if err != nil {
		return err
	}

	dz.addKeyed(key, doc, count)
	return nil
}

// addKeyed adds a document whose key is already known.
func (dz *DocumentZSet) addKeyed(key string, doc Document, count int) {
	if count == 0 {
		return
	}

	c, exists := dz.counts[key]
	if !exists {
		dz.docs[key] = doc
		dz.counts[key] = count
		return
	}

	if c+count == 0 {
		delete(dz.counts, key)
		delete(dz.docs, key)
		return
	}
	dz.counts[key] = c + count
}

// addMutate adds a Z-set scaled by k to the receiver in place.
func (dz *DocumentZSet) addMutate(other *DocumentZSet, k int) {
	if other == nil || k == 0 {
		return
	}
	for key, count := range other.counts {
		dz.addKeyed(key, other.docs[key], k*count)
	}
}

// Add performs Z-set addition (union with multiplicity).
func (dz *DocumentZSet) Add(other *DocumentZSet) *DocumentZSet {
	result := dz.ShallowCopy()
	result.addMutate(other, 1)
	return result
}

// Subtract performs Z-set subtraction.
func (dz *DocumentZSet) Subtract(other *DocumentZSet) *DocumentZSet {
	result := dz.ShallowCopy()
	result.addMutate(other, -1)
	return result
}

// Negate flips the sign of every weight.
func (dz *DocumentZSet) Negate() *DocumentZSet {
	return dz.Scale(-1)
}

// Scale multiplies every weight by k. Scaling by zero yields the empty Z-set.
func (dz *DocumentZSet) Scale(k int) *DocumentZSet {
	if k == 0 {
		return NewDocumentZSet()
	}
	result := newDocumentZSetWithCap(len(dz.counts))
	for key, count := range dz.counts {
		result.docs[key] = dz.docs[key]
		result.counts[key] = k * count
	}
	return result
}

// Distinct converts the Z-set to set semantics: documents with positive weight get weight 1,
// all other documents are dropped.
func (dz *DocumentZSet) Distinct() *DocumentZSet {
	result := newDocumentZSetWithCap(len(dz.counts))
	for key, count := range dz.counts {
		if count > 0 {
			result.docs[key] = dz.docs[key]
			result.counts[key] = 1
		}
	}
	return result
}

// Unique converts a Z-set to set semantics preserving multiplicity sign (all multiplicities
// become +/-1).
func (dz *DocumentZSet) Unique() *DocumentZSet {
	result := newDocumentZSetWithCap(len(dz.counts))
	for key, count := range dz.counts {
		result.docs[key] = dz.docs[key]
		result.counts[key] = sign(count)
	}
	return result
}

// ShallowCopy creates a copy of the DocumentZSet sharing the documents.
func (dz *DocumentZSet) ShallowCopy() *DocumentZSet {
	result := newDocumentZSetWithCap(len(dz.counts))
	for key, count := range dz.counts {
		result.docs[key] = dz.docs[key]
		result.counts[key] = count
	}
	return result
}

// DeepCopy creates a deep copy of the DocumentZSet.
func (dz *DocumentZSet) DeepCopy() *DocumentZSet {
	result := newDocumentZSetWithCap(len(dz.counts))
	for key, count := range dz.counts {
		result.docs[key] = DeepCopyDocument(dz.docs[key])
		result.counts[key] = count
	}
	return result
}

// Equal reports whether two Z-sets have the same documents with the same weights.
func (dz *DocumentZSet) Equal(other *DocumentZSet) bool {
	if other == nil {
		return dz.IsZero()
	}
	if len(dz.counts) != len(other.counts) {
		return false
	}
	for key, count := range dz.counts {
		if other.counts[key] != count {
			return false
		}
	}
	return true
}

// keys returns the keys of the Z-set in canonical order.
func (dz *DocumentZSet) keys() []string {
	keys := make([]string, 0, len(dz.counts))
	for key := range dz.counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// weight returns the weight stored under a key.
func (dz *DocumentZSet) weight(key string) int { return dz.counts[key] }

// Entries returns all documents with their multiplicities (including negative ones), ordered by
// canonical key.
func (dz *DocumentZSet) Entries() []DocumentEntry {
	result := make([]DocumentEntry, 0, len(dz.counts))
	for _, key := range dz.keys() {
		result = append(result, DocumentEntry{
			Document:     DeepCopyDocument(dz.docs[key]),
			Multiplicity: dz.counts[key],
		})
	}
	return result
}

// GetDocuments returns all documents as a slice. Documents with multiplicity n appear n times in
// the result, documents with non-positive multiplicity are skipped.
func (dz *DocumentZSet) GetDocuments() []Document {
	var result []Document
	for _, key := range dz.keys() {
		for i := 0; i < dz.counts[key]; i++ {
			result = append(result, DeepCopyDocument(dz.docs[key]))
		}
	}
	return result
}

// GetUniqueDocuments returns all documents with positive multiplicity, ignoring multiplicities.
func (dz *DocumentZSet) GetUniqueDocuments() []Document {
	var result []Document
	for _, key := range dz.keys() {
		if dz.counts[key] > 0 {
			result = append(result, DeepCopyDocument(dz.docs[key]))
		}
	}
	return result
}

// IsZero checks if the Z-set is the zero element (has no entries).
func (dz *DocumentZSet) IsZero() bool {
	return dz == nil || len(dz.counts) == 0
}

// Len returns the number of distinct documents stored, regardless of sign.
func (dz *DocumentZSet) Len() int {
	return len(dz.counts)
}

// Size returns the number of documents counting only positive multiplicities.
func (dz *DocumentZSet) Size() int {
	total := 0
	for _, count := range dz.counts {
		if count > 0 {
			total += count
		}
	}
	return total
}

// TotalSize returns the total number of documents, counting both positive and negative
// multiplicities.
func (dz *DocumentZSet) TotalSize() int {
	total := 0
	for _, count := range dz.counts {
		total += abs(count)
	}
	return total
}

// UniqueCount returns number of unique documents with positive multiplicity.
func (dz *DocumentZSet) UniqueCount() int {
	count := 0
	for _, multiplicity := range dz.counts {
		if multiplicity > 0 {
			count++
		}
	}
	return count
}

// GetMultiplicity returns the multiplicity of a specific document.
func (dz *DocumentZSet) GetMultiplicity(doc Document) (int, error) {
	key, err := computeJSONKey(doc)
	if err != nil {
		return 0, newZSetError("failed to compute document key", err)
	}
	return dz.counts[key], nil
}

// Contains checks if a document exists in the Z-set with positive multiplicity.
func (dz *DocumentZSet) Contains(doc Document) (bool, error) {
	multiplicity, err := dz.GetMultiplicity(doc)
	if err != nil {
		return false, err
	}
	return multiplicity > 0, nil
}

// String returns a deterministic string representation of the Z-set for debugging.
func (dz *DocumentZSet) String() string {
	if dz.IsZero() {
		return "∅"
	}

	parts := make([]string, 0, len(dz.counts))
	for _, key := range dz.keys() {
		parts = append(parts, fmt.Sprintf("%s×%d", key, dz.counts[key]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// setWeight is the weight a tuple gets under set semantics.
func setWeight(x int) int {
	if x > 0 {
		return 1
	}
	return 0
}
