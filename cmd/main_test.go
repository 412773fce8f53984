package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	write := func(rel string) string {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		return path
	}
	spec := write("Division 03/03 30 00.PDF")
	notes := write("notes.txt")
	write("model.rvt")
	write(".git/config.txt")
	write(".~lock.notes.txt#")
	loose := filepath.Join(t.TempDir(), "drawing.dwg")
	require.NoError(t, os.WriteFile(loose, []byte("x"), 0o644))

	files, err := collectFiles([]string{root, loose}, []string{"pdf", "txt"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{spec, notes, loose}, files)

	_, err = collectFiles([]string{filepath.Join(root, "missing")}, nil)
	assert.Error(t, err)
}

func TestNonEmpty(t *testing.T) {
	assert.Equal(t, []string{"sealant", "joint"}, nonEmpty([]string{" sealant", "", "joint "}))

	out := nonEmpty([]string{""})
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, 10, orDefault(0, 10))
	assert.Equal(t, 3, orDefault(3, 10))
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2024, d.Year())

	d, err = parseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = parseDate("03/01/2024")
	assert.ErrorContains(t, err, "invalid date")
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"index", "remove", "search", "stats", "clear", "export", "import", "catalog", "cache", "respond", "watch"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, path := range [][]string{{"catalog", "scan"}, {"catalog", "history"}, {"cache", "warm"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[1], cmd.Name())
	}
}

func TestClearRequiresConfirmation(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"clear", "--project", "7"})

	err := root.Execute()
	assert.ErrorContains(t, err, "refusing to clear project 7")
}

func TestCatalogCommandsAgainstSQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "catalog:\n  path: " + filepath.Join(dir, "catalog.db") + "\ncache:\n  path: " + filepath.Join(dir, "cache.db") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.Mkdir(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "RFI 12.txt"), []byte("Please confirm the slab edge detail."), 0o644))

	run := func(args ...string) string {
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(append([]string{"--config", cfgPath}, args...))
		require.NoError(t, root.Execute(), args)
		return out.String()
	}

	assert.Contains(t, run("catalog", "scan", docs), `"files_indexed": 1`)
	assert.Contains(t, run("catalog", "search", "RFI", "--type", "rfi"), `"filename": "RFI 12.txt"`)
	assert.Contains(t, run("cache", "get", filepath.Join(docs, "RFI 12.txt")), "slab edge detail")
	assert.Contains(t, run("cache", "stats"), `"max_memory_items": 500`)
}
