// Package engine implements the scrub and backup reconciliation
// algorithms on top of the tree package, plus the TreeManager that owns
// the trees and the manifest files for one run.
package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Colored verdict phrases for operator narration.
var (
	redb    = color.New(color.FgRed, color.Bold).Sprint
	greenb  = color.New(color.FgGreen, color.Bold).Sprint
	yellowb = color.New(color.FgYellow, color.Bold).Sprint
)

// Prompter asks the operator a yes/no question. Implementations must be
// safe to call repeatedly within one engine run.
type Prompter interface {
	AskYesNo(question string) bool
}

// StdioPrompter prints the question and reads input until the first 'y'
// or 'n', case-insensitive. When the input is not a terminal, every
// question is answered "no" instead of blocking on a stream that will
// never deliver an answer.
type StdioPrompter struct {
	Out         io.Writer
	Interactive bool
	in          *bufio.Reader
}

// NewStdioPrompter returns a prompter on stdin/stdout, detecting whether
// stdin is a terminal.
func NewStdioPrompter() *StdioPrompter {
	return &StdioPrompter{
		Out:         os.Stdout,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
		in:          bufio.NewReader(os.Stdin),
	}
}

func (p *StdioPrompter) AskYesNo(question string) bool {
	fmt.Fprintf(p.Out, "%s [y/n]\n", question)
	if !p.Interactive {
		fmt.Fprintln(p.Out, "Standard input is not a terminal, assuming no.")
		return false
	}
	for {
		c, _, err := p.in.ReadRune()
		if err != nil {
			return false
		}
		switch c {
		case 'y', 'Y':
			return true
		case 'n', 'N':
			return false
		}
	}
}
