package dbsp

import (
	"errors"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DocumentZSet", func() {
	var (
		alice, bob, nested Document
	)

	BeforeEach(func() {
		alice = doc("name", "Alice", "age", int64(30))
		bob = doc("name", "Bob", "age", int64(25), "city", "NYC")
		nested = doc(
			"product", "laptop",
			"specs", map[string]any{"cpu": "i7", "storage": []any{"SSD", int64(512)}},
		)
	})

	Describe("document identity", func() {
		It("should treat documents with equal content as equal", func() {
			z := zs(alice, 1, doc("age", int64(30), "name", "Alice"), 2)
			Expect(z.Len()).To(Equal(1))
			m, err := z.GetMultiplicity(alice)
			Expect(err).NotTo(HaveOccurred())
			Expect(m).To(Equal(3))
		})

		It("should handle nested documents", func() {
			z := zs(nested, 1)
			ok, err := z.Contains(DeepCopyDocument(nested))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("should reject unserializable documents", func() {
			_, err := NewDocumentZSet().AddDocument(doc("ch", make(chan int)), 1)
			Expect(err).To(HaveOccurred())
			var zerr *ZSetError
			Expect(errors.As(err, &zerr)).To(BeTrue())
		})

		It("should reject odd key-value pairs", func() {
			_, err := NewDocumentFromPairs("a")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("group operations", func() {
		It("should drop entries whose weights cancel", func() {
			z := zs(alice, 2).Add(zs(alice, -2, bob, 1))
			expectZSet(z, zs(bob, 1))
			Expect(z.Len()).To(Equal(1))
		})

		It("should not modify the operands", func() {
			a, b := zs(alice, 1), zs(alice, 1, bob, -1)
			_ = a.Add(b)
			_ = a.Subtract(b)
			_ = b.Negate()
			expectZSet(a, zs(alice, 1))
			expectZSet(b, zs(alice, 1, bob, -1))
		})

		It("should scale and negate", func() {
			z := zs(alice, 2, bob, -1)
			expectZSet(z.Scale(3), zs(alice, 6, bob, -3))
			expectZSet(z.Negate(), zs(alice, -2, bob, 1))
			Expect(z.Scale(0).IsZero()).To(BeTrue())
		})

		It("should satisfy the abelian group laws", func() {
			r := rand.New(rand.NewSource(1))
			for i := 0; i < 100; i++ {
				a, b, c := randomZSet(r, 6, 3), randomZSet(r, 6, 3), randomZSet(r, 6, 3)
				expectZSet(a.Add(b), b.Add(a))
				expectZSet(a.Add(b).Add(c), a.Add(b.Add(c)))
				expectZSet(a.Add(NewDocumentZSet()), a)
				Expect(a.Add(a.Negate()).IsZero()).To(BeTrue())
				expectZSet(a.Subtract(b), a.Add(b.Negate()))
			}
		})
	})

	Describe("distinct", func() {
		It("should keep positive entries with weight one", func() {
			z := zs(alice, 3, bob, -2)
			expectZSet(z.Distinct(), zs(alice, 1))
		})

		It("should be idempotent", func() {
			r := rand.New(rand.NewSource(2))
			for i := 0; i < 50; i++ {
				z := randomZSet(r, 8, 4)
				expectZSet(z.Distinct().Distinct(), z.Distinct())
			}
		})

		It("should map to signs with unique", func() {
			expectZSet(zs(alice, 3, bob, -2).Unique(), zs(alice, 1, bob, -1))
		})
	})

	Describe("consolidation", func() {
		It("should sum duplicates and drop zero weights", func() {
			z, err := Consolidate([]DocumentEntry{
				{Document: alice, Multiplicity: 1},
				{Document: bob, Multiplicity: 2},
				{Document: alice, Multiplicity: 2},
				{Document: bob, Multiplicity: -2},
				{Document: nested, Multiplicity: 0},
			})
			Expect(err).NotTo(HaveOccurred())
			expectZSet(z, zs(alice, 3))
		})

		It("should equal the sum of singletons", func() {
			r := rand.New(rand.NewSource(3))
			for i := 0; i < 50; i++ {
				var batch []DocumentEntry
				sum := NewDocumentZSet()
				for j := 0; j < 10; j++ {
					e := DocumentEntry{Document: doc("v", int64(r.Intn(4))), Multiplicity: r.Intn(5) - 2}
					batch = append(batch, e)
					single, err := NewDocumentZSet().AddDocument(e.Document, e.Multiplicity)
					Expect(err).NotTo(HaveOccurred())
					sum = sum.Add(single)
				}
				z, err := Consolidate(batch)
				Expect(err).NotTo(HaveOccurred())
				expectZSet(z, sum)
			}
		})
	})

	Describe("listing", func() {
		It("should list entries in canonical order", func() {
			z := zs(doc("v", int64(2)), 1, doc("v", int64(1)), -1, doc("v", int64(3)), 2)
			entries := z.Entries()
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].Document).To(Equal(doc("v", int64(1))))
			Expect(entries[0].Multiplicity).To(Equal(-1))
			Expect(entries[2].Multiplicity).To(Equal(2))
			Expect(z.String()).To(Equal(`{{"v":1}×-1, {"v":2}×1, {"v":3}×2}`))
		})

		It("should count sizes", func() {
			z := zs(alice, 2, bob, -1)
			Expect(z.Size()).To(Equal(2))
			Expect(z.TotalSize()).To(Equal(3))
			Expect(z.UniqueCount()).To(Equal(1))
			Expect(z.GetDocuments()).To(HaveLen(2))
			Expect(z.GetUniqueDocuments()).To(HaveLen(1))
			Expect(NewDocumentZSet().String()).To(Equal("∅"))
		})

		It("should return copies of the documents", func() {
			z := zs(alice, 1)
			z.Entries()[0].Document["name"] = "Mallory"
			ok, err := z.Contains(alice)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})
})
