package toolkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const toolkitsFixture = `
[[toolkit]]
id = "netadmin"
name = "Network Administration"
description = "Diagnostics and capture tools"
base_iso = "debian-live-12.iso"
install_script = "netadmin.sh"

[[toolkit]]
id = "forensics"
name = "Forensics"
description = "Imaging and analysis tools"
base_iso = "debian-live-12.iso"
install_script = "forensics.sh"
`

const categoriesFixture = `
[[category]]
id = "security"
name = "Security Tooling"
base_iso = "debian-live-12.iso"

[[category.modules]]
id = "netscan"
name = "Network Scanning"
description = "Port and host discovery"
packages = ["nmap", "masscan"]

[[category.modules]]
id = "capture"
name = "Packet Capture"
description = "Traffic capture and inspection"
packages = ["tcpdump", "wireshark"]
`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadToolkits(t *testing.T) {
	toolkits, err := LoadToolkits(writeFixture(t, toolkitsFixture))
	require.NoError(t, err)
	require.Len(t, toolkits, 2)

	assert.Equal(t, "netadmin", toolkits[0].ID)
	assert.Equal(t, "debian-live-12.iso", toolkits[0].BaseISO)

	tk, err := FindToolkit(toolkits, "forensics")
	require.NoError(t, err)
	assert.Equal(t, "Forensics", tk.Name)

	_, err = FindToolkit(toolkits, "nope")
	assert.Error(t, err)
}

func TestLoadCategories(t *testing.T) {
	categories, err := LoadCategories(writeFixture(t, categoriesFixture))
	require.NoError(t, err)
	require.Len(t, categories, 1)

	cat, err := FindCategory(categories, "security")
	require.NoError(t, err)
	require.Len(t, cat.Modules, 2)
	assert.Equal(t, []string{"nmap", "masscan"}, cat.Modules[0].Packages)
}

func TestSelectModules(t *testing.T) {
	categories, err := LoadCategories(writeFixture(t, categoriesFixture))
	require.NoError(t, err)
	cat := categories[0]

	// catalog order wins over request order
	selected, err := cat.SelectModules([]string{"capture", "netscan"})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "netscan", selected[0].ID)
	assert.Equal(t, "capture", selected[1].ID)

	_, err = cat.SelectModules([]string{"netscan", "missing"})
	assert.Error(t, err)
}

func TestLoadToolkitsMissingFile(t *testing.T) {
	_, err := LoadToolkits(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
	assert.False(t, Exists(filepath.Join(t.TempDir(), "absent.toml")))
}
