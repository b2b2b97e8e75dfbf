package suppliers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traces-scraper/model"
)

func TestRead_HeaderSkipped(t *testing.T) {
	got, err := Read(strings.NewReader("supplier\nChoconut B.V\nNuts 2 B.V\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, []model.Supplier{
		{Name: "Choconut B.V", NormalizedName: "choconut b.v"},
		{Name: "Nuts 2 B.V", NormalizedName: "nuts 2 b.v"},
	}, got)
}

func TestRead_NoHeader(t *testing.T) {
	got, err := Read(strings.NewReader("Choconut B.V\nNuts 2 B.V\n"), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Choconut B.V", got[0].Name)
}

func TestRead_BlankLinesAndExtraColumns(t *testing.T) {
	in := "\ufeffName,Country\n\n  Choconut B.V  ,NL\n,\n\"Olivar, S.L.\",ES\n\n"
	got, err := Read(strings.NewReader(in), nil)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "Choconut B.V", got[0].Name)
	assert.Equal(t, "Olivar, S.L.", got[1].Name)
}

func TestRead_HeaderOnlyInFirstRow(t *testing.T) {
	got, err := Read(strings.NewReader("Choconut B.V\nname\n"), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "name", got[1].Name)
}

func TestRead_CustomHeaderLabels(t *testing.T) {
	got, err := Read(strings.NewReader("Operator\nChoconut B.V\n"), []string{"operator"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = Read(strings.NewReader("supplier\nChoconut B.V\n"), []string{"operator"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRead_Empty(t *testing.T) {
	_, err := Read(strings.NewReader("supplier\n\n"), nil)
	assert.ErrorIs(t, err, ErrNoSuppliers)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suppliers.csv")
	require.NoError(t, os.WriteFile(path, []byte("suppliers\nChoconut B.V\n"), 0o644))

	got, err := ReadFile(path, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = ReadFile(filepath.Join(dir, "missing.csv"), nil)
	assert.ErrorContains(t, err, "not found")
}
