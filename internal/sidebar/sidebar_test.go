package sidebar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const jsSidebar = `module.exports = {
  "mySidebar": [
    {
      "type": "category",
      "label": "Basics",
      "items": [
        "basics/overview",
        "basics/dependencies",
        "client/overview",
      ]
    },
    {
      "type": "category",
      "label": "UI Components",
      "items": [
        "ui/overview",
        {
          "Channel List": [
            "ui/channel-components/channel-list-screen",
            "ui/channel-components/channel-list",
          ]
        },
      ]
    },
  ]
};
`

const yamlSidebar = `
docs:
  - intro
  - type: doc
    id: guides/install
    label: Install
  - type: category
    label: Reference
    items:
      - reference/api
      - type: link
        label: GitHub
        href: https://github.com/example/repo
      - type: autogenerated
        dirName: reference/generated
api:
  Getting Started:
    - api/quickstart
  Advanced:
    - api/auth
    - api/quickstart
`

func TestParse_JSModule(t *testing.T) {
	sbs, err := Parse([]byte(jsSidebar))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(sbs) != 1 || sbs[0].Name != "mySidebar" {
		t.Fatalf("sidebars = %+v", sbs)
	}

	items := sbs[0].Items
	if len(items) != 2 {
		t.Fatalf("top-level items = %d, want 2", len(items))
	}
	if items[0].Type != TypeCategory || items[0].Label != "Basics" || len(items[0].Items) != 3 {
		t.Fatalf("first category = %+v", items[0])
	}
	shorthand := items[1].Items[1]
	if shorthand.Type != TypeCategory || shorthand.Label != "Channel List" || len(shorthand.Items) != 2 {
		t.Fatalf("shorthand category = %+v", shorthand)
	}

	want := []string{
		"basics/overview",
		"basics/dependencies",
		"client/overview",
		"ui/overview",
		"ui/channel-components/channel-list-screen",
		"ui/channel-components/channel-list",
	}
	got := sbs[0].DocIDs()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("DocIDs = %v, want %v", got, want)
	}
}

func TestParse_YAML(t *testing.T) {
	sbs, err := Parse([]byte(yamlSidebar))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(sbs) != 2 || sbs[0].Name != "api" || sbs[1].Name != "docs" {
		t.Fatalf("sidebars not sorted by name: %+v", sbs)
	}

	api := sbs[0]
	if len(api.Items) != 2 || api.Items[0].Label != "Getting Started" || api.Items[1].Label != "Advanced" {
		t.Fatalf("shorthand order not preserved: %+v", api.Items)
	}

	docs := sbs[1]
	got := strings.Join(docs.DocIDs(), ",")
	if got != "intro,guides/install,reference/api" {
		t.Fatalf("DocIDs = %s", got)
	}
	ref := docs.Items[2]
	if ref.Items[1].Type != TypeLink || ref.Items[1].Href == "" {
		t.Fatalf("link item = %+v", ref.Items[1])
	}
	if ref.Items[2].Type != TypeAutogenerated || ref.Items[2].ID != "reference/generated" {
		t.Fatalf("autogenerated item = %+v", ref.Items[2])
	}
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":              ``,
		"top-level list":     `- a`,
		"scalar body":        `docs: intro`,
		"unknown type":       "docs:\n  - type: widget\n",
		"doc without id":     "docs:\n  - type: doc\n",
		"category no label":  "docs:\n  - type: category\n    items: [a]\n",
		"category no items":  "docs:\n  - type: category\n    label: X\n",
		"link without href":  "docs:\n  - type: link\n    label: X\n",
		"shorthand not list": "docs:\n  - Basics: intro\n",
		"malformed":          "docs: [a, b",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(in)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sidebars-android.js")
	if err := os.WriteFile(p, []byte(jsSidebar), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sbs, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(sbs) != 1 {
		t.Fatalf("got %d sidebars", len(sbs))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestFindMissing(t *testing.T) {
	sbs, err := Parse([]byte(yamlSidebar))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pages := map[string]bool{
		"intro":          true,
		"reference/api":  true,
		"api/quickstart": true,
	}
	got := FindMissing(sbs, func(id string) bool { return pages[id] })

	want := []Missing{
		{Sidebar: "api", ID: "api/auth", Page: "api/auth"},
		{Sidebar: "docs", ID: "guides/install", Page: "guides/install"},
	}
	if len(got) != len(want) {
		t.Fatalf("FindMissing = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FindMissing[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFindMissing_DuplicatesReportedOnce(t *testing.T) {
	sbs := []Sidebar{{Name: "s", Items: []Item{
		{Type: TypeDoc, ID: "a"},
		{Type: TypeCategory, Label: "C", Items: []Item{{Type: TypeDoc, ID: "a"}}},
	}}}
	got := FindMissing(sbs, func(string) bool { return false })
	if len(got) != 1 {
		t.Fatalf("FindMissing = %+v, want one entry", got)
	}
}

func TestFindMissing_RouteBase(t *testing.T) {
	sbs, err := Parse([]byte(jsSidebar))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sbs[0].Base = "android"

	// pages as an SDK-prefixed build lays them out
	pages := map[string]bool{
		"android/basics/overview":                           true,
		"android/basics/dependencies":                       true,
		"android/client/overview":                           true,
		"android/ui/overview":                               true,
		"android/ui/channel-components/channel-list-screen": true,
	}
	got := FindMissing(sbs, func(page string) bool { return pages[page] })

	want := Missing{
		Sidebar: "mySidebar",
		ID:      "ui/channel-components/channel-list",
		Page:    "android/ui/channel-components/channel-list",
	}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("FindMissing = %+v, want [%+v]", got, want)
	}
}
