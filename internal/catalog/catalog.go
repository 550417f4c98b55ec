package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hochfrequenz/porkchop/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrPromptNotFound is returned when no prompt exists for a key
var ErrPromptNotFound = errors.New("prompt not found")

const (
	promptExt      = ".txt"
	embeddedRoot   = "prompts"
	maxDescription = 100
)

// Prompt is a loaded rubric with its integrity digest
type Prompt struct {
	Info    domain.PromptInfo
	Content string
}

// Meta is the optional YAML front matter of a prompt file
type Meta struct {
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
}

// Group is the list of prompts in one category
type Group struct {
	Category domain.PromptCategory `json:"category"`
	Prompts  []domain.PromptInfo   `json:"prompts"`
}

// Catalog serves prompts from override directories with the embedded set as fallback.
// Directories are checked in order; first match wins.
type Catalog struct {
	overrideDirs []string
	logger       *slog.Logger

	mu    sync.RWMutex
	cache []domain.PromptInfo
}

// New creates a catalog over the given override directories
func New(logger *slog.Logger, overrideDirs ...string) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	dirs := make([]string, 0, len(overrideDirs))
	for _, d := range overrideDirs {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return &Catalog{overrideDirs: dirs, logger: logger}
}

// Dirs returns the override directories
func (c *Catalog) Dirs() []string {
	return append([]string(nil), c.overrideDirs...)
}

// sources returns the file systems to search, highest priority first
func (c *Catalog) sources() []fs.FS {
	srcs := make([]fs.FS, 0, len(c.overrideDirs)+1)
	for _, d := range c.overrideDirs {
		srcs = append(srcs, os.DirFS(d))
	}
	embedded, _ := fs.Sub(embeddedFS, embeddedRoot)
	return append(srcs, embedded)
}

// List returns every known prompt sorted by category then name
func (c *Catalog) List() ([]domain.PromptInfo, error) {
	c.mu.RLock()
	if c.cache != nil {
		out := append([]domain.PromptInfo(nil), c.cache...)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	seen := make(map[domain.PromptKey]bool)
	var infos []domain.PromptInfo

	for _, src := range c.sources() {
		for _, cat := range domain.Categories {
			entries, err := fs.ReadDir(src, string(cat))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("read %s: %w", cat, err)
			}
			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), promptExt) {
					continue
				}
				key := domain.PromptKey{Category: cat, Name: strings.TrimSuffix(e.Name(), promptExt)}
				if seen[key] {
					continue
				}
				p, err := readPrompt(src, key)
				if err != nil {
					c.logger.Warn("skipping unreadable prompt", "prompt", key.String(), "error", err)
					continue
				}
				seen[key] = true
				infos = append(infos, p.Info)
			}
		}
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Category != infos[j].Category {
			return categoryOrder(infos[i].Category) < categoryOrder(infos[j].Category)
		}
		return infos[i].Name < infos[j].Name
	})

	c.mu.Lock()
	c.cache = infos
	c.mu.Unlock()

	return append([]domain.PromptInfo(nil), infos...), nil
}

// Groups returns List grouped by category; categories without prompts are omitted
func (c *Catalog) Groups() ([]Group, error) {
	infos, err := c.List()
	if err != nil {
		return nil, err
	}
	var groups []Group
	for _, info := range infos {
		if n := len(groups); n == 0 || groups[n-1].Category != info.Category {
			groups = append(groups, Group{Category: info.Category})
		}
		g := &groups[len(groups)-1]
		g.Prompts = append(g.Prompts, info)
	}
	return groups, nil
}

// Load reads one prompt and its digest
func (c *Catalog) Load(key domain.PromptKey) (*Prompt, error) {
	if !validName(key.Name) {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, key)
	}
	for _, src := range c.sources() {
		p, err := readPrompt(src, key)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, key)
}

// Info returns catalog metadata for a key
func (c *Catalog) Info(key domain.PromptKey) (domain.PromptInfo, error) {
	p, err := c.Load(key)
	if err != nil {
		return domain.PromptInfo{}, err
	}
	return p.Info, nil
}

// Invalidate drops the cached listing
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

func readPrompt(src fs.FS, key domain.PromptKey) (*Prompt, error) {
	raw, err := fs.ReadFile(src, path.Join(string(key.Category), key.Name+promptExt))
	if err != nil {
		return nil, err
	}

	meta, body, err := parseFrontmatter(raw)
	if err != nil {
		return nil, err
	}

	desc := ""
	if meta != nil {
		desc = meta.Description
	}
	if desc == "" {
		desc = describe(body)
	}
	if desc == "" {
		desc = "Prompt: " + key.Name
	}

	return &Prompt{
		Info: domain.PromptInfo{
			Name:        key.Name,
			Category:    key.Category,
			Description: desc,
			SHA256:      Digest(raw),
		},
		Content: body,
	}, nil
}

// Digest returns the hex sha256 of data
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// parseFrontmatter splits content into YAML front matter and body
func parseFrontmatter(content []byte) (*Meta, string, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return nil, string(content), nil
	}
	rest := content[4:]
	end := bytes.Index(rest, []byte("\n---\n"))
	if end == -1 {
		return nil, string(content), nil // malformed, treat as no front matter
	}

	var meta Meta
	if err := yaml.Unmarshal(rest[:end], &meta); err != nil {
		return nil, "", fmt.Errorf("parse front matter: %w", err)
	}
	return &meta, string(rest[end+5:]), nil
}

// describe derives a description from the first line: a "#" comment, or
// the first sentence when it is short.
func describe(body string) string {
	first, _, _ := strings.Cut(body, "\n")
	first = strings.TrimSpace(first)
	if strings.HasPrefix(first, "#") {
		return strings.TrimSpace(first[1:])
	}
	sentence, _, _ := strings.Cut(first, ".")
	if sentence != "" && len(sentence) < maxDescription {
		return sentence
	}
	return ""
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func categoryOrder(c domain.PromptCategory) int {
	for i, cat := range domain.Categories {
		if cat == c {
			return i
		}
	}
	return len(domain.Categories)
}
