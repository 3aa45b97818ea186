package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appDir = "scriptmonkey"

// maxAttempts bounds suffix probing.
const maxAttempts = 10000

// DataDir returns the base data directory, honouring XDG_DATA_HOME.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", appDir)
	}
	return filepath.Join(os.TempDir(), appDir)
}

// ScriptRoot is the default permanent script storage root.
func ScriptRoot() string {
	return filepath.Join(DataDir(), "scripts")
}

// PrefsFile is the default SQLite preference database.
func PrefsFile() string {
	return filepath.Join(DataDir(), "prefs.db")
}

// TempRoot is where scripts live before installation.
func TempRoot() string {
	return filepath.Join(os.TempDir(), appDir)
}

// CreateUniqueDir creates parent/name, or the first free suffixed variant,
// and returns its path.
func CreateUniqueDir(parent, name string) (string, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	for i := 0; i < maxAttempts; i++ {
		candidate := filepath.Join(parent, suffixed(name, "", i))
		err := os.Mkdir(candidate, 0o755)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free directory name for %q in %s", name, parent)
}

// CreateUniqueFile creates an empty file dir/name, or the first free suffixed
// variant, and returns its base name.
func CreateUniqueFile(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; i < maxAttempts; i++ {
		candidate := suffixed(base, ext, i)
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return candidate, f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free file name for %q in %s", name, dir)
}

// WriteUniqueFile creates a unique file like CreateUniqueFile and fills it.
func WriteUniqueFile(dir, name string, data []byte) (string, error) {
	file, err := CreateUniqueFile(dir, name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, file), data, 0o644); err != nil {
		return "", err
	}
	return file, nil
}

// SafeBase reduces name to a single path element.
func SafeBase(name string) string {
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if name == "/" || name == "." || name == "" {
		return "file"
	}
	return name
}

func suffixed(base, ext string, i int) string {
	if i == 0 {
		return base + ext
	}
	return fmt.Sprintf("%s-%d%s", base, i, ext)
}
