// Package setupwizard defines the interactive-configuration contract used
// by `init` to gather a profile's settings (spec §4.15), plus two
// implementations: a stdin-driven prompt for interactive use and a
// pre-filled answer map for scripted/non-interactive invocations.
package setupwizard

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter asks the user a question and returns their answer.
type Prompter interface {
	Prompt(question string) (string, error)
}

// Interactive prompts on In and writes the question to Out.
type Interactive struct {
	In  io.Reader
	Out io.Writer
}

// Prompt implements Prompter.
func (w Interactive) Prompt(question string) (string, error) {
	fmt.Fprintf(w.Out, "%s: ", question)

	reader := bufio.NewReader(w.In)

	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading answer: %w", err)
	}

	return strings.TrimSpace(line), nil
}

// FlagsConfigurer answers every Prompt call from a pre-filled map, so a
// scripted caller never blocks on stdin. A question
// with no matching answer returns an empty string rather than an error,
// matching an unset optional field.
type FlagsConfigurer struct {
	Answers map[string]string
}

// Prompt implements Prompter.
func (f FlagsConfigurer) Prompt(question string) (string, error) {
	return f.Answers[question], nil
}
