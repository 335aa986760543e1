package prompt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

// brainModule is one content file under the prompt dir. The product team owns
// these files; the backend only stitches them together.
type brainModule struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Provider assembles the system prompt from brain-module JSON files plus a
// per-prospect preamble. Modules are read fresh on every call so copy edits
// land without a restart.
type Provider struct {
	dir    string
	logger *slog.Logger
}

var _ domain.PromptProvider = (*Provider)(nil)

// NewProvider returns a Provider rooted at dir. The dir must exist and be a
// directory; individual module files are allowed to be missing or broken.
func NewProvider(dir string, logger *slog.Logger) (*Provider, error) {
	dir = filepath.Clean(dir)
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("prompt dir: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("prompt dir %s: %w", dir, os.ErrNotExist)
	}
	return &Provider{dir: dir, logger: logger}, nil
}

func (p *Provider) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// SystemPrompt reads every *.json module in lexicographic filename order,
// renders titled sections, and appends the prospect preamble. A module that
// fails to parse is skipped with a warning; the dir itself being unreadable is
// an error.
func (p *Provider) SystemPrompt(prospectID string) (string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return "", fmt.Errorf("prompt: read modules dir: %w", err)
	}

	var sections []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.dir, name))
		if err != nil {
			p.log().Warn("skipping unreadable brain module", "file", name, "error", err)
			continue
		}
		var mod brainModule
		if err := json.Unmarshal(data, &mod); err != nil {
			p.log().Warn("skipping malformed brain module", "file", name, "error", err)
			continue
		}
		section := renderModule(mod)
		if section == "" {
			continue
		}
		sections = append(sections, section)
	}

	sections = append(sections, preamble(prospectID))
	return strings.Join(sections, "\n\n"), nil
}

// renderModule formats one module as a markdown section. Untitled modules
// contribute their content bare.
func renderModule(mod brainModule) string {
	content := strings.TrimSpace(mod.Content)
	if content == "" {
		return ""
	}
	title := strings.TrimSpace(mod.Title)
	if title == "" {
		return content
	}
	return "## " + title + "\n\n" + content
}

// preamble tells the model whose folder this conversation belongs to. Every
// tool schema requires userId, so the model needs the value spelled out.
func preamble(prospectID string) string {
	return fmt.Sprintf("You are consulting for the prospect with userId %q. Pass exactly this value as userId in every tool call.", prospectID)
}
