// Package testutil provides the fakes and disk-tree helpers the engine
// and tree tests share.
package testutil

import (
	"sync"

	"github.com/fedetft/directorydiffmerge/internal/engine"
)

// ScriptedPrompter answers yes/no questions from a fixed script, recording
// every question asked. Once the script runs out, every answer is false.
type ScriptedPrompter struct {
	mu        sync.Mutex
	answers   []bool
	Questions []string
}

// NewScriptedPrompter creates a prompter answering from the given script.
func NewScriptedPrompter(answers ...bool) *ScriptedPrompter {
	return &ScriptedPrompter{answers: answers}
}

func (p *ScriptedPrompter) AskYesNo(question string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Questions = append(p.Questions, question)
	if len(p.answers) == 0 {
		return false
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer
}

// Compile-time check that ScriptedPrompter satisfies the engine interface.
var _ engine.Prompter = (*ScriptedPrompter)(nil)
