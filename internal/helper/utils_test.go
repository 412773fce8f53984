package helper

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID(t *testing.T) {
	a := ChunkID(12, 0)
	assert.Equal(t, a, ChunkID(12, 0))
	assert.NotEqual(t, a, ChunkID(12, 1))
	assert.NotEqual(t, a, ChunkID(1, 20))

	id, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), id.Version())
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.1235, Round(0.123456, 4))
	assert.Equal(t, 1.0, Round(0.99999, 4))
	assert.Equal(t, 0.0, Round(0, 4))
}

func TestPrettyPrint(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrint(&buf, map[string]int{"chunks": 3})
	assert.Equal(t, "{\n  \"chunks\": 3\n}\n", buf.String())
}

func TestDataDir(t *testing.T) {
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }

	tests := []struct {
		name string
		goos string
		home string
		env  map[string]string
		want string
	}{
		{"windows appdata", "windows", `C:\Users\pm`, map[string]string{"AppData": `C:\Users\pm\AppData\Roaming`}, filepath.Join(`C:\Users\pm\AppData\Roaming`, "spec-rag")},
		{"windows without appdata", "windows", "/home/pm", nil, filepath.Join("/home/pm", "AppData", "Roaming", "spec-rag")},
		{"macos", "darwin", "/Users/pm", nil, filepath.Join("/Users/pm", "Library", "Application Support", "spec-rag")},
		{"linux xdg", "linux", "/home/pm", map[string]string{"XDG_DATA_HOME": "/srv/xdg"}, filepath.Join("/srv/xdg", "spec-rag")},
		{"linux relative xdg ignored", "linux", "/home/pm", map[string]string{"XDG_DATA_HOME": "xdg"}, filepath.Join("/home/pm", ".local", "share", "spec-rag")},
		{"no home", "freebsd", "", nil, filepath.Join(".local", "share", "spec-rag")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env = tt.env
			assert.Equal(t, tt.want, dataDir(tt.goos, tt.home, getenv))
		})
	}
}

func TestCacheDir(t *testing.T) {
	base, err := os.UserCacheDir()
	if err != nil {
		t.Skip("no user cache directory on this machine")
	}
	assert.Equal(t, filepath.Join(base, "spec-rag"), CacheDir())
	assert.NotEqual(t, DataDir(), CacheDir())
}

func TestCreateFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateFolder(dir))
	assert.DirExists(t, dir)
}
