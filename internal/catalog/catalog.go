// Package catalog holds the display metadata for each OS profile. It is static configuration
// for presentation; launching never consults it.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

//go:embed default.toml
var defaultCatalog string

// Profile is the display metadata for one OS profile.
type Profile struct {
	Name  string   `toml:"name" json:"name"`
	Specs []string `toml:"specs" json:"specs"`
	Apps  []string `toml:"apps" json:"apps"`
}

// Catalog maps each OS identifier to its display metadata.
type Catalog map[models.OSIdentifier]Profile

// Entry pairs an identifier with its profile, for ordered rendering.
type Entry struct {
	OS      models.OSIdentifier `json:"osIdentifier"`
	Profile Profile             `json:"profile"`
}

type file struct {
	Profiles map[string]Profile `toml:"profiles"`
}

// Default returns the built-in catalog.
func Default() Catalog {
	c, err := parse(defaultCatalog, "default.toml")
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file and overlays it on the built-in catalog. Profiles present in the
// file replace the built-in profile for that identifier.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	overlay, err := parse(string(data), path)
	if err != nil {
		return nil, err
	}

	c := Default()
	for id, p := range overlay {
		c[id] = p
	}
	return c, nil
}

// Entries returns the catalog in display order. Identifiers without a profile get their
// identifier as the display name.
func (c Catalog) Entries() []Entry {
	entries := make([]Entry, 0, len(models.AllOSIdentifiers()))
	for _, id := range models.AllOSIdentifiers() {
		p, ok := c[id]
		if !ok {
			p = Profile{Name: string(id)}
		}
		entries = append(entries, Entry{OS: id, Profile: p})
	}
	return entries
}

// DisplayName returns the profile name for id, falling back to the identifier itself.
func (c Catalog) DisplayName(id models.OSIdentifier) string {
	if p, ok := c[id]; ok && p.Name != "" {
		return p.Name
	}
	return string(id)
}

func parse(data, source string) (Catalog, error) {
	var f file
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog %q: %w", source, err)
	}

	c := make(Catalog, len(f.Profiles))
	for name, p := range f.Profiles {
		id, err := models.ParseOSIdentifier(name)
		if err != nil {
			return nil, fmt.Errorf("catalog %q: %w", source, err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("catalog %q: profile %s has no name", source, id)
		}
		c[id] = p
	}
	return c, nil
}
