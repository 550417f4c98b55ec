package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePrompt(t *testing.T, root string, cat domain.PromptCategory, name, content string) {
	t.Helper()
	dir := filepath.Join(root, string(cat))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".txt"), []byte(content), 0o644))
}

func TestCatalog_ListEmbedded(t *testing.T) {
	c := New(nil)

	infos, err := c.List()
	require.NoError(t, err)
	require.NotEmpty(t, infos)

	for _, cat := range domain.Categories {
		_, err := c.Info(domain.PromptKey{Category: cat, Name: "all"})
		assert.NoError(t, err, "embedded all prompt for %s", cat)
	}

	// sorted by category order, then name
	for i := 1; i < len(infos); i++ {
		a, b := infos[i-1], infos[i]
		if a.Category == b.Category {
			assert.Less(t, a.Name, b.Name)
		} else {
			assert.Less(t, categoryOrder(a.Category), categoryOrder(b.Category))
		}
	}
}

func TestCatalog_LoadDigest(t *testing.T) {
	root := t.TempDir()
	content := "# Custom rubric\nCheck things."
	writePrompt(t, root, domain.CategoryPipelineValidity, "custom", content)

	c := New(nil, root)
	p, err := c.Load(domain.PromptKey{Category: domain.CategoryPipelineValidity, Name: "custom"})
	require.NoError(t, err)

	assert.Equal(t, content, p.Content)
	assert.Equal(t, Digest([]byte(content)), p.Info.SHA256)
	assert.Equal(t, "Custom rubric", p.Info.Description)
	assert.Len(t, p.Info.SHA256, 64)
}

func TestCatalog_OverrideWins(t *testing.T) {
	root := t.TempDir()
	writePrompt(t, root, domain.CategoryArtifactsAnonymity, "all", "overridden")

	c := New(nil, root)
	p, err := c.Load(domain.PromptKey{Category: domain.CategoryArtifactsAnonymity, Name: "all"})
	require.NoError(t, err)
	assert.Equal(t, "overridden", p.Content)

	infos, err := c.List()
	require.NoError(t, err)
	count := 0
	for _, info := range infos {
		if info.Category == domain.CategoryArtifactsAnonymity && info.Name == "all" {
			count++
			assert.Equal(t, Digest([]byte("overridden")), info.SHA256)
		}
	}
	assert.Equal(t, 1, count, "override must shadow the embedded prompt")
}

func TestCatalog_NotFound(t *testing.T) {
	c := New(nil, t.TempDir())

	for _, name := range []string{"missing", "../pipeline_validity/all", "..", ""} {
		_, err := c.Load(domain.PromptKey{Category: domain.CategoryPipelineValidity, Name: name})
		assert.True(t, errors.Is(err, ErrPromptNotFound), "name %q: %v", name, err)
	}
}

func TestCatalog_Descriptions(t *testing.T) {
	root := t.TempDir()
	cat := domain.CategoryPipelineUsability
	writePrompt(t, root, cat, "comment", "# Code quality review\nYou are an expert.")
	writePrompt(t, root, cat, "sentence", "Short description text. More content here.")
	writePrompt(t, root, cat, "long", repeat("A", 120)+". Rest.")
	writePrompt(t, root, cat, "empty", "")
	writePrompt(t, root, cat, "front", "---\ndescription: From front matter\ntags: [a]\n---\nBody text.")

	c := New(nil, root)
	want := map[string]string{
		"comment":  "Code quality review",
		"sentence": "Short description text",
		"long":     "Prompt: long",
		"empty":    "Prompt: empty",
		"front":    "From front matter",
	}
	for name, desc := range want {
		p, err := c.Load(domain.PromptKey{Category: cat, Name: name})
		require.NoError(t, err, name)
		assert.Equal(t, desc, p.Info.Description, name)
	}

	p, err := c.Load(domain.PromptKey{Category: cat, Name: "front"})
	require.NoError(t, err)
	assert.Equal(t, "Body text.", p.Content, "front matter is not part of the rubric")
}

func TestCatalog_IgnoresOtherExtensions(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, string(domain.CategoryPipelineValidity))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0o644))

	infos, err := New(nil, root).List()
	require.NoError(t, err)
	for _, info := range infos {
		assert.NotEqual(t, "notes", info.Name)
	}
}

func TestCatalog_Groups(t *testing.T) {
	groups, err := New(nil).Groups()
	require.NoError(t, err)
	require.Len(t, groups, len(domain.Categories))
	assert.Equal(t, domain.CategoryPipelineValidity, groups[0].Category)
	for _, g := range groups {
		for _, p := range g.Prompts {
			assert.Equal(t, g.Category, p.Category)
		}
	}
}

func TestWatcher_InvalidatesOnNewPrompt(t *testing.T) {
	root := t.TempDir()
	writePrompt(t, root, domain.CategoryPipelineValidity, "first", "one")

	c := New(nil, root)
	before, err := c.List()
	require.NoError(t, err)

	w, err := NewWatcher(c)
	require.NoError(t, err)
	w.SetDebounce(10 * time.Millisecond)
	changed := make(chan struct{}, 1)
	w.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	w.Start(t.Context())
	defer w.Stop()

	writePrompt(t, root, domain.CategoryPipelineValidity, "second", "two")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the new prompt")
	}

	after, err := c.List()
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)
}

func repeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
