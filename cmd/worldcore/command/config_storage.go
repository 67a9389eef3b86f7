package command

import (
	"fmt"
	"os"

	"github.com/pixil98/go-errors"

	"github.com/driftline/worldcore/internal/catalog"
	"github.com/driftline/worldcore/internal/experience"
	"github.com/driftline/worldcore/internal/storage"
)

type StorageConfig struct {
	Experiences AssetConfig[*experience.Config] `json:"experiences"`
	Templates   AssetConfig[*catalog.Template]  `json:"templates"`

	// TemplateDir optionally layers YAML template documents over the JSON
	// template assets.
	TemplateDir string `json:"template_dir,omitempty"`

	Records RecordStoreConfig `json:"records"`
}

func (c *StorageConfig) validate() error {
	el := errors.NewErrorList()
	el.Add(c.Experiences.Validate("experiences"))
	el.Add(c.Templates.Validate("templates"))
	el.Add(c.Records.validate())

	if c.TemplateDir != "" {
		if _, err := os.Stat(c.TemplateDir); err != nil {
			el.Add(fmt.Errorf("templates: invalid template_dir %q: %w", c.TemplateDir, err))
		}
	}

	return el.Err()
}

// BuildCatalog assembles the template catalog from JSON assets plus any
// YAML overlay directory.
func (c *StorageConfig) BuildCatalog() (*catalog.Catalog, error) {
	templates, err := c.Templates.BuildFileStore()
	if err != nil {
		return nil, fmt.Errorf("creating template store: %w", err)
	}

	cat := catalog.New(templates)
	if c.TemplateDir != "" {
		if err := cat.LoadYAMLDir(c.TemplateDir); err != nil {
			return nil, fmt.Errorf("loading yaml templates: %w", err)
		}
	}
	return cat, nil
}

// BuildExperienceResolver loads experience configs from their asset path.
func (c *StorageConfig) BuildExperienceResolver() (*experience.Resolver, error) {
	configs, err := c.Experiences.BuildFileStore()
	if err != nil {
		return nil, fmt.Errorf("creating experience store: %w", err)
	}
	return experience.NewResolver(configs), nil
}

type AssetConfig[T storage.ValidatingSpec] struct {
	Path string `json:"path"`
}

func (c *AssetConfig[T]) Validate(name string) error {
	if c.Path == "" {
		return fmt.Errorf("%s: path is required", name)
	}
	_, err := os.Stat(c.Path)
	if err != nil {
		return fmt.Errorf("%s: invalid path %q: %w", name, c.Path, err)
	}

	return nil
}

func (c *AssetConfig[T]) BuildFileStore() (*storage.FileStore[T], error) {
	return storage.NewFileStore[T](c.Path)
}

// RecordStoreConfig selects the durable backend for world and view records.
type RecordStoreConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

func (c *RecordStoreConfig) validate() error {
	el := errors.NewErrorList()

	switch c.Backend {
	case "", "file", "sqlite":
	default:
		el.Add(fmt.Errorf("records: backend %q is invalid (must be file or sqlite)", c.Backend))
	}
	if c.Path == "" {
		el.Add(fmt.Errorf("records: path is required"))
	}

	return el.Err()
}

func (c *RecordStoreConfig) BuildRecordStore() (storage.RecordStore, error) {
	switch c.Backend {
	case "sqlite":
		return storage.OpenSQLiteRecordStore(c.Path)
	default:
		return storage.NewFileRecordStore(c.Path)
	}
}
