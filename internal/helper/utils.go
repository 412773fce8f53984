package helper

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// chunkNamespace scopes name-based chunk ids to this application.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("spec-rag/chunk"))

// ChunkID derives a stable record id from a document id and chunk index, so
// re-indexing the same chunk overwrites rather than duplicates.
func ChunkID(fileID int64, chunkIndex int) string {
	name := strconv.FormatInt(fileID, 10) + "_" + strconv.Itoa(chunkIndex)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// Round rounds to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// PrettyPrint writes v as indented JSON to w.
func PrettyPrint(w io.Writer, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Fprintln(w, string(b))
}

// CreateFolder makes sure dir exists.
func CreateFolder(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", dir, err)
	}
	return nil
}

const appName = "spec-rag"

// DataDir is where durable state such as the catalog lives.
func DataDir() string {
	home, _ := os.UserHomeDir()
	return dataDir(runtime.GOOS, home, os.Getenv)
}

// dataDir maps an OS to its per-user application data location: %AppData%
// on Windows, Application Support on macOS and $XDG_DATA_HOME elsewhere.
// Without a home directory it falls back to a path relative to the working
// directory.
func dataDir(goos, home string, getenv func(string) string) string {
	var base string
	switch goos {
	case "windows":
		base = getenv("AppData")
		if base == "" && home != "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
	case "darwin", "ios":
		if home != "" {
			base = filepath.Join(home, "Library", "Application Support")
		}
	default:
		base = getenv("XDG_DATA_HOME")
		if !filepath.IsAbs(base) {
			base = ""
			if home != "" {
				base = filepath.Join(home, ".local", "share")
			}
		}
	}
	if base == "" {
		return filepath.Join(".local", "share", appName)
	}
	return filepath.Join(base, appName)
}

// CacheDir is the per-user cache location reported by os.UserCacheDir:
// %LocalAppData% on Windows, ~/Library/Caches on macOS and $XDG_CACHE_HOME
// elsewhere.
func CacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		log.Warn().Err(err).Msg("No user cache directory, using the working directory")
		return filepath.Join(".cache", appName)
	}
	return filepath.Join(dir, appName)
}
