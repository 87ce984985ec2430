package dbsp

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("JSONPath", func() {
	pod := func(name, node string, port int64) Document {
		return Document{
			"metadata": map[string]any{"name": name},
			"spec":     map[string]any{"node": node, "ports": []any{port}},
		}
	}

	It("should extract nested values", func() {
		x, err := NewJSONPathExtractor("$.metadata.name")
		Expect(err).NotTo(HaveOccurred())
		v, err := x.Extract(pod("web", "n1", 80))
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("web"))

		x, err = NewJSONPathExtractor("$.spec.ports[0]")
		Expect(err).NotTo(HaveOccurred())
		v, err = x.Extract(pod("web", "n1", 80))
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(int64(80)))
		Expect(x.String()).To(ContainSubstring("$.spec.ports[0]"))
	})

	It("should return nil for missing values", func() {
		x, err := NewJSONPathExtractor("$.status.phase")
		Expect(err).NotTo(HaveOccurred())
		v, err := x.Extract(pod("web", "n1", 80))
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeNil())
	})

	It("should handle the root reference", func() {
		x, err := NewJSONPathExtractor("$.")
		Expect(err).NotTo(HaveOccurred())
		d := doc("a", int64(1))
		v, err := x.Extract(d)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(d))
	})

	It("should reject malformed expressions", func() {
		_, err := NewJSONPathExtractor("$.spec[")
		Expect(err).To(HaveOccurred())
		_, err = NewJSONPathProjection(map[string]string{"x": "$.spec["})
		Expect(err).To(HaveOccurred())
	})

	It("should project nested fields", func() {
		p, err := NewJSONPathProjection(map[string]string{"name": "$.metadata.name", "node": "$.spec.node",
			"phase": "$.status.phase"})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.String()).To(Equal("JSONPathProjection(name=$.metadata.name,node=$.spec.node,phase=$.status.phase)"))

		out, err := NewProjection(p).Process(zs(pod("web", "n1", 80), 1, pod("db", "n1", 5432), 2))
		Expect(err).NotTo(HaveOccurred())
		expectZSet(out, zs(doc("name", "web", "node", "n1"), 1, doc("name", "db", "node", "n1"), 2))
	})

	It("should serve as a join key", func() {
		podNode, err := NewJSONPathExtractor("$.spec.node")
		Expect(err).NotTo(HaveOccurred())
		nodeName, err := NewJSONPathExtractor("$.metadata.name")
		Expect(err).NotTo(HaveOccurred())

		node := Document{"metadata": map[string]any{"name": "n1"}, "zone": "eu"}
		join := NewJoin(podNode, nodeName, nil, nil)
		out, err := join.Process(zs(pod("web", "n1", 80), 1, pod("db", "n2", 5432), 1), zs(node, 1))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Len()).To(Equal(1))
	})
})
