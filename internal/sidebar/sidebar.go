// Package sidebar parses the documentation generator's navigation trees
// and checks them against the pages a build actually produced.
//
// A sidebar file maps sidebar names to item lists. Items take the forms the
// generator accepts:
//
//	"basics/overview"                          doc id shorthand
//	{type: doc, id: basics/overview}
//	{type: category, label: Basics, items: [...]}
//	{type: link, label: GitHub, href: https://...}
//	{type: autogenerated, dirName: guides}
//	{"Channel List": [...]}                    category shorthand
//
// Files are YAML or JSON. A leading "module.exports =" and trailing ";" are
// tolerated so plain JS sidebar files with JSON-shaped bodies parse as-is.
package sidebar

import (
	"bytes"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// Item types
const (
	TypeDoc           = "doc"
	TypeRef           = "ref"
	TypeCategory      = "category"
	TypeLink          = "link"
	TypeAutogenerated = "autogenerated"
	TypeHTML          = "html"
)

// Item is one node of a sidebar tree.
type Item struct {
	Type  string
	Label string
	// ID is the doc id for doc/ref items and the directory for autogenerated ones
	ID    string
	Href  string
	Items []Item
}

// Sidebar is one named navigation tree.
type Sidebar struct {
	Name string
	// Base is the route base the tree's doc ids resolve under, e.g. "android"
	// for a tree whose pages are built at android/<id>.html. Empty for the root.
	Base  string
	Items []Item
}

// Load reads and parses a sidebar file.
func Load(path string) ([]Sidebar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read sidebar file %s", path)
	}
	sbs, err := Parse(data)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse sidebar file %s", path)
	}
	return sbs, nil
}

// Parse decodes every sidebar in data, sorted by name.
func Parse(data []byte) ([]Sidebar, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(stripModuleExports(data), &doc); err != nil {
		return nil, xerrors.Wrap(err, "decode sidebars")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, xerrors.New("empty sidebar document")
	}
	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, xerrors.Newf("line %d: sidebars must be a mapping of name to items", top.Line)
	}

	out := make([]Sidebar, 0, len(top.Content)/2)
	for i := 0; i+1 < len(top.Content); i += 2 {
		name := top.Content[i].Value
		items, err := parseSidebarBody(top.Content[i+1])
		if err != nil {
			return nil, xerrors.Wrapf(err, "sidebar %q", name)
		}
		out = append(out, Sidebar{Name: name, Items: items})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// a sidebar body is a list of items or a shorthand mapping of category label to items
func parseSidebarBody(n *yaml.Node) ([]Item, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		return parseItems(n)
	case yaml.MappingNode:
		return parseShorthand(n)
	default:
		return nil, xerrors.Newf("line %d: expected list or mapping of items", n.Line)
	}
}

func parseItems(seq *yaml.Node) ([]Item, error) {
	items := make([]Item, 0, len(seq.Content))
	for _, n := range seq.Content {
		got, err := parseItem(n)
		if err != nil {
			return nil, err
		}
		items = append(items, got...)
	}
	return items, nil
}

// parseItem returns more than one item only for multi-key shorthand mappings.
func parseItem(n *yaml.Node) ([]Item, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Value == "" {
			return nil, xerrors.Newf("line %d: empty doc id", n.Line)
		}
		return []Item{{Type: TypeDoc, ID: n.Value}}, nil
	case yaml.MappingNode:
		if lookup(n, "type") == nil {
			return parseShorthand(n)
		}
		it, err := parseTyped(n)
		if err != nil {
			return nil, err
		}
		return []Item{it}, nil
	default:
		return nil, xerrors.Newf("line %d: unsupported sidebar item", n.Line)
	}
}

func parseTyped(n *yaml.Node) (Item, error) {
	it := Item{
		Type:  scalar(n, "type"),
		Label: scalar(n, "label"),
	}
	switch it.Type {
	case TypeDoc, TypeRef:
		it.ID = scalar(n, "id")
		if it.ID == "" {
			return Item{}, xerrors.Newf("line %d: %s item requires id", n.Line, it.Type)
		}
	case TypeCategory:
		if it.Label == "" {
			return Item{}, xerrors.Newf("line %d: category requires label", n.Line)
		}
		children := lookup(n, "items")
		if children == nil || children.Kind != yaml.SequenceNode {
			return Item{}, xerrors.Newf("line %d: category %q requires an items list", n.Line, it.Label)
		}
		items, err := parseItems(children)
		if err != nil {
			return Item{}, xerrors.Wrapf(err, "category %q", it.Label)
		}
		it.Items = items
	case TypeLink:
		it.Href = scalar(n, "href")
		if it.Href == "" {
			return Item{}, xerrors.Newf("line %d: link requires href", n.Line)
		}
	case TypeAutogenerated:
		it.ID = scalar(n, "dirName")
	case TypeHTML:
	default:
		return Item{}, xerrors.Newf("line %d: unknown item type %q", n.Line, it.Type)
	}
	return it, nil
}

func parseShorthand(n *yaml.Node) ([]Item, error) {
	out := make([]Item, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		label := n.Content[i].Value
		body := n.Content[i+1]
		if body.Kind != yaml.SequenceNode {
			return nil, xerrors.Newf("line %d: category %q must map to a list", body.Line, label)
		}
		items, err := parseItems(body)
		if err != nil {
			return nil, xerrors.Wrapf(err, "category %q", label)
		}
		out = append(out, Item{Type: TypeCategory, Label: label, Items: items})
	}
	return out, nil
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func scalar(m *yaml.Node, key string) string {
	if v := lookup(m, key); v != nil && v.Kind == yaml.ScalarNode {
		return v.Value
	}
	return ""
}

func stripModuleExports(data []byte) []byte {
	b := bytes.TrimSpace(data)
	b = bytes.TrimPrefix(b, []byte("module.exports"))
	b = bytes.TrimSpace(b)
	b = bytes.TrimPrefix(b, []byte("="))
	b = bytes.TrimSuffix(bytes.TrimSpace(b), []byte(";"))
	return b
}

// DocIDs returns every doc id referenced by s, depth first, duplicates kept.
func (s Sidebar) DocIDs() []string {
	var out []string
	var walk func([]Item)
	walk = func(items []Item) {
		for _, it := range items {
			switch it.Type {
			case TypeDoc, TypeRef:
				out = append(out, it.ID)
			case TypeCategory:
				walk(it.Items)
			}
		}
	}
	walk(s.Items)
	return out
}

// Missing is a doc id referenced by a sidebar with no generated page.
type Missing struct {
	Sidebar string
	ID      string
	// Page is the build path looked up for ID, Base joined with ID
	Page string
}

// FindMissing reports each doc id, once per sidebar, for which has returns
// false. has is asked about the id joined under the sidebar's Base.
func FindMissing(sidebars []Sidebar, has func(page string) bool) []Missing {
	var out []Missing
	for _, sb := range sidebars {
		seen := make(map[string]bool)
		for _, id := range sb.DocIDs() {
			if seen[id] {
				continue
			}
			seen[id] = true
			page := path.Join(sb.Base, id)
			if !has(page) {
				out = append(out, Missing{Sidebar: sb.Name, ID: id, Page: page})
			}
		}
	}
	return out
}
