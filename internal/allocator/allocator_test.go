package allocator

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/tanq16/imgrab/internal/utils"
)

var safeName = regexp.MustCompile(`^[A-Za-z0-9\-._]+$`)

func TestAllocate(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "simple", url: "http://example.com/a.jpg", want: "a.jpg"},
		{name: "nested path", url: "http://example.com/img/2024/cat.png", want: "cat.png"},
		{name: "query ignored", url: "http://example.com/pic.gif?size=large", want: "pic.gif"},
		{name: "trailing slash", url: "http://example.com/dir/photo.webp/", want: "photo.webp"},
		{name: "multi dot", url: "http://example.com/archive.tar.gz", want: "archive.tar.gz"},
		{name: "unsafe runs collapse", url: "http://example.com/my%20holiday%20pic.jpg", want: "my_20holiday_20pic.jpg"},
		{name: "mixed case kept", url: "http://example.com/IMG_0042.JPG", want: "IMG_0042.JPG"},
		{
			name: "long base truncated to 31",
			url:  "http://example.com/" + strings.Repeat("x", 40) + ".png",
			want: strings.Repeat("x", 31) + ".png",
		},
		{
			name: "truncated before sanitizing",
			url:  "http://example.com/" + strings.Repeat("b", 30) + "~~~~~~.png",
			want: strings.Repeat("b", 30) + "_.png",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			got, err := a.Allocate(tt.url)
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			if !safeName.MatchString(got) {
				t.Errorf("name %q violates the safe-character policy", got)
			}
			if !a.Contains(got) {
				t.Errorf("expected %q to be reserved", got)
			}
		})
	}
}

func TestAllocateErrors(t *testing.T) {
	tests := []struct {
		url  string
		want error
	}{
		{url: "http://example.com/", want: utils.ErrNoFilename},
		{url: "http://example.com", want: utils.ErrNoFilename},
		{url: "http://example.com/photo", want: utils.ErrNoExtension},
		{url: "http://example.com/dir/", want: utils.ErrNoExtension},
		{url: "http://example.com/.hidden", want: utils.ErrNoExtension},
		{url: "http://example.com/name.", want: utils.ErrNoExtension},
		{url: "http://exa mple.com/%zz", want: utils.ErrNoFilename},
	}
	for _, tt := range tests {
		a := New()
		name, err := a.Allocate(tt.url)
		if !errors.Is(err, tt.want) {
			t.Errorf("Allocate(%q): expected %v, got name=%q err=%v", tt.url, tt.want, name, err)
		}
		if a.Len() != 0 {
			t.Errorf("Allocate(%q): failed allocation reserved a name", tt.url)
		}
	}
}

func TestAllocateCollisions(t *testing.T) {
	a := New("a.jpg", "a-2.jpg")
	want := []string{"a-1.jpg", "a-3.jpg", "a-4.jpg"}
	for _, w := range want {
		got, err := a.Allocate("http://x/a.jpg")
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if got != w {
			t.Errorf("expected %q, got %q", w, got)
		}
	}
	// different source URLs that sanitize to the same name still collide
	got, err := a.Allocate("http://y/other/a.jpg")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got != "a-5.jpg" {
		t.Errorf("expected a-5.jpg, got %q", got)
	}
}

func TestAllocateConcurrent(t *testing.T) {
	const n = 64
	a := New()
	names := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, err := a.Allocate("http://example.com/same.png")
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			names[i] = name
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, name := range names {
		if seen[name] {
			t.Fatalf("name %q handed out twice", name)
		}
		seen[name] = true
	}
	if a.Len() != n {
		t.Errorf("expected %d reserved names, got %d", n, a.Len())
	}
}

func TestSeedFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "b.jpg"), 0755); err != nil {
		t.Fatal(err)
	}

	a, err := SeedFromDir(dir)
	if err != nil {
		t.Fatalf("SeedFromDir: %v", err)
	}
	if !a.Contains("a.jpg") {
		t.Error("expected existing file to be reserved")
	}
	if a.Contains("b.jpg") {
		t.Error("subdirectories must not be reserved")
	}

	got, _ := a.Allocate("http://x/a.jpg")
	if got != "a-1.jpg" {
		t.Errorf("expected a-1.jpg, got %q", got)
	}

	if _, err := SeedFromDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}
