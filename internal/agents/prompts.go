// ABOUTME: Prompt manifest for the pipeline agents, loaded from TOML
// ABOUTME: Ships with embedded defaults; a config path can override them

package agents

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed prompts.toml
var defaultPrompts []byte

// PromptSpec holds the prompt material for one agent.
type PromptSpec struct {
	System string `toml:"system"`
}

// Prompts is the full manifest, one table per agent.
type Prompts struct {
	TaskManager PromptSpec `toml:"task_manager"`
	Inquirer    PromptSpec `toml:"inquirer"`
	Researcher  PromptSpec `toml:"researcher"`
	Writer      PromptSpec `toml:"writer"`
	Suggester   PromptSpec `toml:"suggester"`
}

// LoadPrompts returns the embedded manifest, or parses the file at path when
// one is given.
func LoadPrompts(path string) (*Prompts, error) {
	data := defaultPrompts
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading prompts file: %w", err)
		}
	}

	var p Prompts
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing prompts: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Prompts) validate() error {
	for name, spec := range map[string]PromptSpec{
		"task_manager": p.TaskManager,
		"inquirer":     p.Inquirer,
		"researcher":   p.Researcher,
		"writer":       p.Writer,
		"suggester":    p.Suggester,
	} {
		if spec.System == "" {
			return fmt.Errorf("prompts: missing system prompt for %s", name)
		}
	}
	return nil
}
