package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
)

// DefaultDir returns $RASTERCACHE_CACHE_DIR, or the default cache directory
// for the current OS if that variable is not set.
func DefaultDir() (cachedir string, err error) {
	cachedir = os.Getenv("RASTERCACHE_CACHE_DIR")
	if cachedir != "" {
		return cachedir, nil
	}

	cachedir, err = os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("unable to locate cache directory: %v", err)
	}

	return filepath.Join(cachedir, "rastercache"), nil
}

const cachedirTagSignature = "Signature: 8a477f597d28d172789f06886806bc55\n"

// writeCachedirTag marks dir as a cache directory, so that backup programs
// skip it.
func writeCachedirTag(dir string) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return errors.Wrap(err, "MkdirAll")
	}

	tagfile := filepath.Join(dir, "CACHEDIR.TAG")
	f, err := os.OpenFile(tagfile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}

		return errors.Wrap(err, "OpenFile")
	}

	debug.Log("create CACHEDIR.TAG at %v", dir)
	if _, err := f.Write([]byte(cachedirTagSignature)); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "Write")
	}

	return f.Close()
}

var storeNamePattern = regexp.MustCompile(`^[a-f0-9]{16}(-p[0-9]+)?$`)

func validStoreName(s string) bool {
	return storeNamePattern.MatchString(s)
}

// Entry describes a store found in a cache base directory.
type Entry struct {
	Name    string
	ModTime time.Time
}

// All returns the stores found below basedir.
func All(basedir string) ([]Entry, error) {
	entries, err := os.ReadDir(basedir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "ReadDir")
	}

	result := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !validStoreName(entry.Name()) {
			continue
		}

		fi, err := os.Stat(filepath.Join(basedir, entry.Name(), metadataFile))
		if err != nil {
			debug.Log("skipping %v: %v", entry.Name(), err)
			continue
		}

		result = append(result, Entry{Name: entry.Name(), ModTime: fi.ModTime()})
	}

	return result, nil
}

// MaxCacheAge is the default age (30 days) after which stores are considered old.
const MaxCacheAge = 30 * 24 * time.Hour

// OlderThan returns the stores below basedir older than maxAge.
func OlderThan(basedir string, maxAge time.Duration) ([]Entry, error) {
	entries, err := All(basedir)
	if err != nil {
		return nil, err
	}

	var old []Entry
	for _, e := range entries {
		if IsOld(e.ModTime, maxAge) {
			old = append(old, e)
		}
	}

	debug.Log("%d old stores found", len(old))
	return old, nil
}

// Old returns the stores below basedir older than MaxCacheAge.
func Old(basedir string) ([]Entry, error) {
	return OlderThan(basedir, MaxCacheAge)
}

// IsOld returns true if the timestamp is considered old.
func IsOld(t time.Time, maxAge time.Duration) bool {
	oldest := time.Now().Add(-maxAge)
	return t.Before(oldest)
}
