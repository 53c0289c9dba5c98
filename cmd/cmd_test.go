// cmd/cmd_test.go
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfmorales/rastreo-cli/api/schemas"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRoster(t *testing.T) {
	path := writeRoster(t, `[
		{"plate": "abc123", "provider": "movilsat", "credentials": {"username": "u", "password": "p"}},
		{"plate": "DEF456", "provider": "rastreosat", "credentials": {"username": "u2", "password": "p2"}}
	]`)

	vehicles, err := loadRoster(path)
	require.NoError(t, err)
	require.Len(t, vehicles, 2)
	assert.Equal(t, schemas.ProviderMovilsat, vehicles[0].Provider)
	assert.Equal(t, "DEF456", vehicles[1].Plate)
}

func TestLoadRosterRejectsUnknownProvider(t *testing.T) {
	path := writeRoster(t, `[{"plate": "ABC123", "provider": "satelital-x"}]`)

	_, err := loadRoster(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestLoadRosterRejectsEmptyPlate(t *testing.T) {
	path := writeRoster(t, `[{"plate": "   ", "provider": "geotrack"}]`)

	_, err := loadRoster(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty plate")
}

func TestLoadRosterEmptyFile(t *testing.T) {
	path := writeRoster(t, `[]`)

	_, err := loadRoster(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vehicles")
}

func TestLoadRosterMissingFile(t *testing.T) {
	_, err := loadRoster(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	err := printJSON(&buf, map[string]string{"plate": "ABC123"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"plate": "ABC123"}`, buf.String())
}
