// Package project reads and writes the persisted project configuration: the
// tags, tier and overrides a workspace was set up with. The document lives at
// .tagforge/project.yaml and keeps any keys it does not understand, so a file
// written by a newer tagforge survives a round trip through an older one.
package project

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"tagforge/internal/compose"
	"tagforge/internal/tags"
)

const (
	// Dir is the workspace-relative directory holding tagforge state.
	Dir = ".tagforge"
	// File is the project document name inside Dir.
	File = "project.yaml"
)

// ErrNotConfigured is returned by Load when the workspace has no project
// document yet.
var ErrNotConfigured = errors.New("project: workspace is not configured (run tagforge init)")

// Path returns the project document path for workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, Dir, File)
}

// Configuration is the validated, typed form of a project document.
type Configuration struct {
	Tags             []tags.Tag        `json:"tags"`
	Tier             tags.Tier         `json:"tier"`
	Include          []string          `json:"include,omitempty"`
	Exclude          []string          `json:"exclude,omitempty"`
	ExtensionSources []string          `json:"extension_sources,omitempty"`
	Variables        map[string]string `json:"variables,omitempty"`
}

// NewConfiguration returns a configuration holding only universal at tier.
func NewConfiguration(tier tags.Tier) Configuration {
	return Configuration{Tags: []tags.Tag{tags.Universal}, Tier: tier}
}

// Validate checks the configuration: known tags, universal
// present, no duplicates, a valid tier.
func (c Configuration) Validate() error {
	if err := tags.ValidateAll(c.Tags); err != nil {
		return err
	}
	if !tags.Contains(c.Tags, tags.Universal) {
		return &tags.ValidationError{Field: "tags", Value: strings.Join(tags.Strings(c.Tags), ","), Allowed: []string{"must include universal"}}
	}
	seen := make(map[tags.Tag]struct{}, len(c.Tags))
	for _, t := range c.Tags {
		if _, dup := seen[t]; dup {
			return &tags.ValidationError{Field: "tags", Value: string(t), Allowed: []string{"each tag once"}}
		}
		seen[t] = struct{}{}
	}
	if !c.Tier.Valid() {
		return &tags.ValidationError{Field: "tier", Value: c.Tier.String()}
	}
	return nil
}

// Clone returns a deep copy.
func (c Configuration) Clone() Configuration {
	return Configuration{
		Tags:             slices.Clone(c.Tags),
		Tier:             c.Tier,
		Include:          slices.Clone(c.Include),
		Exclude:          slices.Clone(c.Exclude),
		ExtensionSources: slices.Clone(c.ExtensionSources),
		Variables:        maps.Clone(c.Variables),
	}
}

// Request builds the composition request this configuration describes.
func (c Configuration) Request() compose.Request {
	return compose.Request{
		Tags:    slices.Clone(c.Tags),
		Tier:    c.Tier,
		Include: slices.Clone(c.Include),
		Exclude: slices.Clone(c.Exclude),
	}
}

// Document is the on-disk shape. Tags and tier stay strings here so a
// document with a bad value can still be loaded, inspected and repaired.
type Document struct {
	Tags             []string          `yaml:"tags" json:"tags"`
	Tier             string            `yaml:"tier,omitempty" json:"tier,omitempty"`
	Include          []string          `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude          []string          `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	ExtensionSources []string          `yaml:"extension_sources,omitempty" json:"extension_sources,omitempty"`
	Variables        map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Extra holds keys this version does not know about.
	Extra map[string]interface{} `yaml:",inline" json:"-"`
}

// Configuration validates the document into a Configuration. Universal is
// prepended when missing and repeated tags collapse to their first
// occurrence. An empty tier means defaultTier.
func (d *Document) Configuration(defaultTier tags.Tier) (Configuration, error) {
	parsed, err := tags.ParseTags(d.Tags)
	if err != nil {
		return Configuration{}, fmt.Errorf("project: %w", err)
	}
	tier := defaultTier
	if strings.TrimSpace(d.Tier) != "" {
		tier, err = tags.ParseTier(d.Tier)
		if err != nil {
			return Configuration{}, fmt.Errorf("project: %w", err)
		}
	}
	cfg := Configuration{
		Tags:             tags.Normalize(parsed),
		Tier:             tier,
		Include:          slices.Clone(d.Include),
		Exclude:          slices.Clone(d.Exclude),
		ExtensionSources: slices.Clone(d.ExtensionSources),
		Variables:        maps.Clone(d.Variables),
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, fmt.Errorf("project: %w", err)
	}
	return cfg, nil
}

// Apply overwrites the known fields with cfg, leaving Extra untouched.
func (d *Document) Apply(cfg Configuration) {
	d.Tags = tags.Strings(cfg.Tags)
	d.Tier = cfg.Tier.String()
	d.Include = slices.Clone(cfg.Include)
	d.Exclude = slices.Clone(cfg.Exclude)
	d.ExtensionSources = slices.Clone(cfg.ExtensionSources)
	d.Variables = maps.Clone(cfg.Variables)
}

// Exists reports whether workspace has a project document.
func Exists(workspace string) bool {
	_, err := os.Stat(Path(workspace))
	return err == nil
}

// Load reads the project document of workspace.
func Load(workspace string) (*Document, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("failed to read project document: %w", err)
	}
	return Parse(data)
}

// Parse decodes a project document.
func Parse(data []byte) (*Document, error) {
	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse project document: %w", err)
	}
	return doc, nil
}

// Save writes doc as the project document of workspace.
func Save(workspace string, doc *Document) error {
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal project document: %w", err)
	}

	// Write to a sibling temp file and rename so readers never see a partial document.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+File+".*")
	if err != nil {
		return fmt.Errorf("failed to write project document: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write project document: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write project document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write project document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace project document: %w", err)
	}
	return nil
}

// LoadConfiguration loads and validates in one step. The returned document
// is kept so callers can Apply changes and Save without losing extra keys.
func LoadConfiguration(workspace string, defaultTier tags.Tier) (*Document, Configuration, error) {
	doc, err := Load(workspace)
	if err != nil {
		return nil, Configuration{}, err
	}
	cfg, err := doc.Configuration(defaultTier)
	if err != nil {
		return doc, Configuration{}, err
	}
	return doc, cfg, nil
}
