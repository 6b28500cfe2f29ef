// Package allocator maps image URLs to unique, filesystem-safe file names
// inside a single target directory.
package allocator

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/tanq16/imgrab/internal/utils"
)

var unsafeRun = regexp.MustCompile(`(?i)[^a-z0-9\-.]+`)

// Allocator is the set of names already on disk or handed to a download.
// Names are never released, so a failed download keeps its slot for the run.
type Allocator struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func New(existing ...string) *Allocator {
	a := &Allocator{used: make(map[string]struct{}, len(existing))}
	for _, name := range existing {
		a.used[name] = struct{}{}
	}
	return a
}

// SeedFromDir reserves the names of the regular files directly inside dir.
func SeedFromDir(dir string) (*Allocator, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading target directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return New(names...), nil
}

// Allocate derives a name from the last path segment of rawURL and reserves
// it, suffixing -1, -2, ... after the base name on collision.
func (a *Allocator) Allocate(rawURL string) (string, error) {
	base, ext, err := splitName(rawURL)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	name := base + ext
	for suffix := 1; a.has(name); suffix++ {
		name = fmt.Sprintf("%s-%d%s", base, suffix, ext)
	}
	a.used[name] = struct{}{}
	return name, nil
}

func (a *Allocator) Contains(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.has(name)
}

func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

func (a *Allocator) has(name string) bool {
	_, ok := a.used[name]
	return ok
}

func splitName(rawURL string) (string, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", utils.ErrNoFilename, err)
	}
	segment := lastSegment(parsed.EscapedPath())
	if segment == "" {
		return "", "", fmt.Errorf("%w: %s", utils.ErrNoFilename, rawURL)
	}
	dot := strings.LastIndex(segment, ".")
	// a leading dot is a hidden file, a trailing dot carries nothing
	if dot <= 0 || dot == len(segment)-1 {
		return "", "", fmt.Errorf("%w: %s", utils.ErrNoExtension, segment)
	}
	base, ext := segment[:dot], segment[dot:]
	if runes := []rune(base); len(runes) > utils.MaxBaseNameLength {
		base = string(runes[:utils.MaxBaseNameLength])
	}
	base = unsafeRun.ReplaceAllString(base, "_")
	ext = "." + unsafeRun.ReplaceAllString(ext[1:], "_")
	return base, ext, nil
}

func lastSegment(path string) string {
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	return parts[len(parts)-1]
}
