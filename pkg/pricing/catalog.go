package pricing

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ServerType describes one purchasable server type: its capacity and its
// published monthly cost. Family groups types into a size ordering for
// downgrade suggestions; the ordering within a family is by monthly cost.
type ServerType struct {
	Name       string  `yaml:"name"`
	Family     string  `yaml:"family"`
	Cores      int     `yaml:"cores"`
	MemoryGB   float64 `yaml:"memory_gb"`
	DiskGB     int     `yaml:"disk_gb"`
	MonthlyEUR float64 `yaml:"monthly_eur"`
}

// Catalog is the cost table: a static mapping from server-type name to
// capacity and monthly cost, queried by the collector and the recommender.
type Catalog struct {
	byName map[string]ServerType
	sorted []ServerType // ascending by monthly cost
}

// NewCatalog builds a catalog from an explicit type list.
func NewCatalog(types []ServerType) *Catalog {
	c := &Catalog{byName: make(map[string]ServerType, len(types))}
	for _, st := range types {
		c.byName[st.Name] = st
	}
	c.sorted = make([]ServerType, 0, len(c.byName))
	for _, st := range c.byName {
		c.sorted = append(c.sorted, st)
	}
	sort.Slice(c.sorted, func(i, j int) bool {
		if c.sorted[i].MonthlyEUR != c.sorted[j].MonthlyEUR {
			return c.sorted[i].MonthlyEUR < c.sorted[j].MonthlyEUR
		}
		return c.sorted[i].Name < c.sorted[j].Name
	})
	return c
}

// LoadCatalog reads a YAML type list from path. An empty path returns the
// built-in default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var doc struct {
		ServerTypes []ServerType `yaml:"server_types"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if len(doc.ServerTypes) == 0 {
		return nil, fmt.Errorf("catalog file %s contains no server types", path)
	}

	return NewCatalog(doc.ServerTypes), nil
}

// Lookup returns the type with the given name.
func (c *Catalog) Lookup(name string) (ServerType, bool) {
	st, ok := c.byName[name]
	return st, ok
}

// Types returns all types, cheapest first.
func (c *Catalog) Types() []ServerType {
	out := make([]ServerType, len(c.sorted))
	copy(out, c.sorted)
	return out
}

// SmallestFor returns the cheapest type whose memory and disk capacity meet
// or exceed the given requirement. Used by the idle rule, which keeps the
// server's committed memory/disk but drops compute.
func (c *Catalog) SmallestFor(memoryGB float64, diskGB int) (ServerType, bool) {
	for _, st := range c.sorted {
		if st.MemoryGB >= memoryGB && st.DiskGB >= diskGB {
			return st, true
		}
	}
	return ServerType{}, false
}

// CheapestFor returns the cheapest type whose cores and memory meet or
// exceed the combined requirement. Used by the group-consolidation rule,
// which assumes member workloads coexist on one host.
func (c *Catalog) CheapestFor(cores int, memoryGB float64) (ServerType, bool) {
	for _, st := range c.sorted {
		if st.Cores >= cores && st.MemoryGB >= memoryGB {
			return st, true
		}
	}
	return ServerType{}, false
}

// NextSmaller returns the next cheaper type within the same family, or
// false when the type is unknown or already the smallest of its family.
// There are no cross-family downgrades.
func (c *Catalog) NextSmaller(name string) (ServerType, bool) {
	current, ok := c.byName[name]
	if !ok || current.Family == "" {
		return ServerType{}, false
	}

	var best ServerType
	found := false
	for _, st := range c.sorted {
		if st.Family != current.Family || st.Name == current.Name {
			continue
		}
		if st.MonthlyEUR >= current.MonthlyEUR {
			continue
		}
		// sorted ascending, so the last match is the largest smaller type
		best = st
		found = true
	}
	return best, found
}
