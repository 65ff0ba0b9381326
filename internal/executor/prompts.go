package executor

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed prompts/*.md
var embeddedPrompts embed.FS

// PromptData holds the variables available to prompt templates.
type PromptData struct {
	IssueKey    string
	Summary     string
	Description string

	// PriorAnalysis carries earlier results on the same issue, already
	// formatted as markdown sections.
	PriorAnalysis string

	// Pull request fields, set by the review actions
	PRNumber      int
	PRTitle       string
	PRDescription string
	ChangedFiles  []string
}

// Prompts renders action prompts. Templates named {action}.md in dir
// replace the embedded ones.
type Prompts struct {
	dir     string
	funcMap template.FuncMap
}

// NewPrompts creates a renderer. An empty dir uses only embedded templates.
func NewPrompts(dir string) *Prompts {
	return &Prompts{
		dir: dir,
		funcMap: template.FuncMap{
			"join":  strings.Join,
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		},
	}
}

// Render renders the template for action with data. Issue text is passed as
// data and is never parsed as template source.
func (p *Prompts) Render(action string, data PromptData) (string, error) {
	content, err := p.read(action + ".md")
	if err != nil {
		return "", fmt.Errorf("failed to read prompt %s: %w", action, err)
	}

	tmpl, err := template.New(action).Funcs(p.funcMap).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt %s: %w", action, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt %s: %w", action, err)
	}
	return buf.String(), nil
}

// Actions lists the actions with an embedded prompt.
func (p *Prompts) Actions() []string {
	entries, err := fs.ReadDir(embeddedPrompts, "prompts")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".md"))
	}
	return names
}

func (p *Prompts) read(name string) ([]byte, error) {
	if p.dir != "" {
		data, err := os.ReadFile(filepath.Join(p.dir, name))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return embeddedPrompts.ReadFile("prompts/" + name)
}
