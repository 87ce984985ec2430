package main

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/l7mp/ivm/pkg/circuit"
	"github.com/l7mp/ivm/pkg/dbsp"
	"github.com/l7mp/ivm/pkg/util"
)

// demos are the bundled example circuits.
var demos = map[string]func() *circuit.Circuit{
	// reachability over the "edges" input: paths = distinct(edges + paths ⋈ edges)
	"closure": func() *circuit.Circuit {
		c := circuit.New("closure")
		in := c.Input("edges")
		c.Recursive("reach", func(s *circuit.Scope) error {
			e := s.Import(in)
			p := s.Variable("paths")
			join := p.Join(e, dbsp.NewFieldExtractor("dst"), dbsp.NewFieldExtractor("src"),
				dbsp.NewMapper("path", func(d dbsp.Document) (dbsp.Document, error) {
					l, r := d["left"].(dbsp.Document), d["right"].(dbsp.Document)
					return dbsp.Document{"src": l["src"], "dst": r["dst"]}, nil
				}))
			next := e.Plus(join).Distinct()
			s.Bind(p, next)
			c.Output("paths", s.Export(next))
			return nil
		})
		return c
	},

	"distinct": func() *circuit.Circuit {
		c := circuit.New("distinct")
		c.Output("out", c.Input("in").Distinct())
		return c
	},

	// per-group statistics of the "v" field over the "rows" input
	"group-stats": func() *circuit.Circuit {
		c := circuit.New("group-stats")
		in := c.Input("rows")
		g, v := dbsp.NewFieldExtractor("g"), dbsp.NewFieldExtractor("v")
		c.Output("count", in.Aggregate(g, v, dbsp.Count(), "g", "count"))
		c.Output("sum", in.Aggregate(g, v, dbsp.Sum(), "g", "sum"))
		c.Output("min", in.Aggregate(g, v, dbsp.Min(), "g", "min"))
		c.Output("max", in.Aggregate(g, v, dbsp.Max(), "g", "max"))
		c.Output("values", in.Aggregate(g, v, dbsp.Collect(), "g", "values"))
		return c
	},

	// number of pods per zone, joining the nested node reference of pods to nodes
	"pods-per-zone": func() *circuit.Circuit {
		c := circuit.New("pods-per-zone")
		pods, nodes := c.Input("pods"), c.Input("nodes")
		zone, err := dbsp.NewJSONPathProjection(map[string]string{
			"pod":  "$.left.metadata.name",
			"zone": "$.right.metadata.labels.zone",
		})
		if err != nil {
			panic(err)
		}
		placed := pods.Join(nodes, mustJSONPath("$.spec.nodeName"), mustJSONPath("$.metadata.name"), zone)
		c.Output("pods", placed.Aggregate(dbsp.NewFieldExtractor("zone"), dbsp.NewFieldExtractor("pod"),
			dbsp.Count(), "zone", "pods"))
		return c
	},
}

func mustJSONPath(query string) *dbsp.JSONPathExtractor {
	x, err := dbsp.NewJSONPathExtractor(query)
	if err != nil {
		panic(err)
	}
	return x
}

func demoNames() []string { return util.SortedKeys(demos) }

// batch is the content of a batch file: a list of ticks, each mapping input names to weighted
// documents. The weight defaults to 1.
//
//	ticks:
//	  - edges:
//	      - doc: {src: 1, dst: 2}
//	      - doc: {src: 2, dst: 3}
//	  - edges:
//	      - doc: {src: 2, dst: 3}
//	        weight: -1
type batch struct {
	Ticks []tick `json:"ticks"`
}

type tick map[string][]entry

type entry struct {
	Doc    dbsp.Document `json:"doc"`
	Weight *int          `json:"weight,omitempty"`
}

func loadBatch(file string) (*batch, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	ret := &batch{}
	if err := yaml.Unmarshal(b, ret); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}
	return ret, nil
}

func (t tick) zsets() (map[string]*dbsp.DocumentZSet, error) {
	ret := make(map[string]*dbsp.DocumentZSet, len(t))
	for name, entries := range t {
		z, err := dbsp.Consolidate(util.Map(func(e entry) dbsp.DocumentEntry {
			w := 1
			if e.Weight != nil {
				w = *e.Weight
			}
			return dbsp.DocumentEntry{Document: e.Doc, Multiplicity: w}
		}, entries))
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		ret[name] = z
	}
	return ret, nil
}

func formatEntry(e dbsp.DocumentEntry) string {
	return fmt.Sprintf("%+d×%s", e.Multiplicity, util.Stringify(e.Document))
}
