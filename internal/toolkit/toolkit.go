// Package toolkit loads the definitions of buildable USB toolkits and
// the module catalog for custom kits.
package toolkit

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Toolkit is one ready-made bootable environment definition.
type Toolkit struct {
	ID            string `toml:"id"`
	Name          string `toml:"name"`
	Description   string `toml:"description"`
	BaseISO       string `toml:"base_iso"`
	InstallScript string `toml:"install_script"`
}

// Module is one selectable package group of a category.
type Module struct {
	ID          string   `toml:"id"`
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Packages    []string `toml:"packages"`
}

// Category groups modules that share a base ISO.
type Category struct {
	ID      string   `toml:"id"`
	Name    string   `toml:"name"`
	BaseISO string   `toml:"base_iso"`
	Modules []Module `toml:"modules"`
}

type toolkitsFile struct {
	Toolkits []Toolkit `toml:"toolkit"`
}

type categoriesFile struct {
	Categories []Category `toml:"category"`
}

// LoadToolkits reads the toolkit definitions from a TOML file.
func LoadToolkits(path string) ([]Toolkit, error) {
	var file toolkitsFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("loading toolkit definitions from %s: %w", path, err)
	}
	return file.Toolkits, nil
}

// LoadCategories reads the module catalog from a TOML file.
func LoadCategories(path string) ([]Category, error) {
	var file categoriesFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("loading module catalog from %s: %w", path, err)
	}
	return file.Categories, nil
}

// FindToolkit returns the toolkit with the given ID.
func FindToolkit(toolkits []Toolkit, id string) (Toolkit, error) {
	for _, tk := range toolkits {
		if tk.ID == id {
			return tk, nil
		}
	}
	return Toolkit{}, fmt.Errorf("toolkit with ID %q not found", id)
}

// FindCategory returns the category with the given ID.
func FindCategory(categories []Category, id string) (Category, error) {
	for _, cat := range categories {
		if cat.ID == id {
			return cat, nil
		}
	}
	return Category{}, fmt.Errorf("category with ID %q not found", id)
}

// SelectModules resolves module IDs within a category, preserving catalog
// order and rejecting unknown IDs.
func (c Category) SelectModules(ids []string) ([]Module, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var selected []Module
	for _, m := range c.Modules {
		if wanted[m.ID] {
			selected = append(selected, m)
			delete(wanted, m.ID)
		}
	}
	for id := range wanted {
		return nil, fmt.Errorf("category %q has no module %q", c.ID, id)
	}
	return selected, nil
}

// Exists reports whether the registry file is present, so the CLI can
// tell a missing config apart from a broken one.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
