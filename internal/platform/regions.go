package platform

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Region is one Anypoint control plane. OAuth endpoints are derived from the
// base URL, matching the platform's fixed path layout.
type Region struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	BaseURL string `yaml:"base_url" json:"baseUrl"`
}

// AuthorizeURL is the authorization-code endpoint for this control plane.
func (r Region) AuthorizeURL() string {
	return r.BaseURL + "/accounts/api/v2/oauth2/authorize"
}

// TokenURL is the token endpoint for this control plane.
func (r Region) TokenURL() string {
	return r.BaseURL + "/accounts/api/v2/oauth2/token"
}

// RevokeURL is the token revocation endpoint for this control plane.
func (r Region) RevokeURL() string {
	return r.BaseURL + "/accounts/api/v2/oauth2/revoke"
}

// Catalog maps region ids to control planes.
type Catalog struct {
	byID  map[string]Region
	order []string
}

func defaultRegions() []Region {
	return []Region{
		{ID: "us", Name: "US control plane", BaseURL: "https://anypoint.mulesoft.com"},
		{ID: "eu1", Name: "EU control plane", BaseURL: "https://eu1.anypoint.mulesoft.com"},
		{ID: "gov", Name: "GovCloud control plane", BaseURL: "https://gov.anypoint.mulesoft.com"},
	}
}

type regionsFile struct {
	Regions []Region `yaml:"regions"`
}

// LoadCatalog builds the region catalog from the built-in control planes,
// optionally extended/overridden by a YAML file. An empty path means
// defaults only.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Region)}
	for _, region := range defaultRegions() {
		c.add(region)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read regions file: %w", err)
		}
		var parsed regionsFile
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("parse regions file: %w", err)
		}
		for _, region := range parsed.Regions {
			if region.ID == "" || region.BaseURL == "" {
				return nil, fmt.Errorf("regions file: entry needs id and base_url")
			}
			c.add(region)
		}
	}

	return c, nil
}

func (c *Catalog) add(region Region) {
	if _, exists := c.byID[region.ID]; !exists {
		c.order = append(c.order, region.ID)
	}
	c.byID[region.ID] = region
}

// Resolve returns the region for an id; empty id falls back to "us".
func (c *Catalog) Resolve(id string) (Region, error) {
	if id == "" {
		id = "us"
	}
	region, ok := c.byID[id]
	if !ok {
		return Region{}, fmt.Errorf("unknown region %q (known: %v)", id, c.IDs())
	}
	return region, nil
}

// IDs returns all known region ids, defaults first, file additions after.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}
