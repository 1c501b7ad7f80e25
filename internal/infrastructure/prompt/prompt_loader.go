package prompt

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromptComponent represents a single hot-pluggable prompt module
// loaded from a .md file with YAML frontmatter.
type PromptComponent struct {
	Name     string        // unique component name
	Priority int           // sort weight (lower = earlier in prompt, default 50)
	Content  string        // the actual prompt text (markdown body)
	Requires *Requirements // conditions for loading (nil = always load)
	FilePath string        // source file path for debugging
}

// Requirements defines the conditions under which a component is loaded.
// All conditions must be satisfied (AND logic).
type Requirements struct {
	// Tools — component loads only if ALL listed tools are registered
	Tools []string `yaml:"tools"`

	// AnyTool — component loads if ANY listed tool is registered
	AnyTool []string `yaml:"any_tool"`

	// Intent — component loads only for these task intents
	Intent []string `yaml:"intent"`

	// Model — component loads only for models whose name contains one of these (case-insensitive)
	Model []string `yaml:"model"`
}

// ParsePromptFile reads a .md file with YAML frontmatter and returns a PromptComponent.
//
// Expected format:
//
//	---
//	name: browser_rules
//	priority: 50
//	requires:
//	  tools: [browser_navigate, browser_screenshot]
//	  intent: [general, research]
//	---
//	Your prompt content here...
func ParsePromptFile(path string) (*PromptComponent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}

	content := string(data)

	// Check for YAML frontmatter
	if !strings.HasPrefix(content, "---") {
		// No frontmatter — treat entire file as content with defaults
		name := fileBaseName(path)
		return &PromptComponent{
			Name:     name,
			Priority: 50,
			Content:  strings.TrimSpace(content),
			FilePath: path,
		}, nil
	}

	// Parse frontmatter
	// Find closing ---
	lines := strings.SplitN(content, "\n", -1)
	closingIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closingIdx = i
			break
		}
	}

	if closingIdx == -1 {
		return nil, fmt.Errorf("unclosed YAML frontmatter in %s", path)
	}

	frontmatter := strings.Join(lines[1:closingIdx], "\n")
	body := strings.Join(lines[closingIdx+1:], "\n")

	comp := &PromptComponent{
		Name:     fileBaseName(path),
		Priority: 50,
		Content:  strings.TrimSpace(body),
		FilePath: path,
	}

	var meta struct {
		Name     string        `yaml:"name"`
		Priority *int          `yaml:"priority"`
		Requires *Requirements `yaml:"requires"`
	}
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, fmt.Errorf("frontmatter in %s: %w", path, err)
	}
	if meta.Name != "" {
		comp.Name = meta.Name
	}
	if meta.Priority != nil {
		comp.Priority = *meta.Priority
	}
	comp.Requires = meta.Requires

	return comp, nil
}

// fileBaseName extracts the file name without extension
func fileBaseName(path string) string {
	// Find last separator
	name := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			name = path[i+1:]
			break
		}
	}
	// Remove extension
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	return name
}
