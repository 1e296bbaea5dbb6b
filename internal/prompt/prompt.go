// Package prompt implements the small terminal dialogs used by the CLI:
// the first-run discovery confirmation, calendar picking and destructive
// action checks.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Prompter reads answers line by line from r and writes questions to w.
// In production these are os.Stdin and os.Stdout.
type Prompter struct {
	scanner *bufio.Scanner
	w       io.Writer
}

// New creates a Prompter wired to the given reader and writer.
func New(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(r), w: w}
}

// Confirm asks a yes/no question. An empty answer or closed input returns
// defaultYes.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	_, _ = fmt.Fprintf(p.w, "%s %s: ", label, hint)

	if !p.scanner.Scan() {
		return defaultYes
	}

	answer := strings.TrimSpace(strings.ToLower(p.scanner.Text()))
	if answer == "" {
		return defaultYes
	}
	return answer == "y" || answer == "yes"
}

// Pick lists options and asks for a comma-separated selection such as
// "1,3". "all" selects every option and an empty answer keeps preselected.
// Indices are zero-based and returned in ascending order.
func (p *Prompter) Pick(label string, options []string, preselected []int) ([]int, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("no options to pick from")
	}

	marked := make(map[int]bool, len(preselected))
	for _, i := range preselected {
		marked[i] = true
	}

	_, _ = fmt.Fprintf(p.w, "%s:\n", label)
	for i, opt := range options {
		box := " "
		if marked[i] {
			box = "x"
		}
		_, _ = fmt.Fprintf(p.w, "  [%s] %d) %s\n", box, i+1, opt)
	}

	for {
		_, _ = fmt.Fprintf(p.w, "Numbers (e.g. 1,3), all, or Enter to keep: ")

		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading answer: %w", err)
			}
			return sorted(marked), nil
		}

		answer := strings.TrimSpace(strings.ToLower(p.scanner.Text()))
		switch answer {
		case "":
			return sorted(marked), nil
		case "all":
			all := make([]int, len(options))
			for i := range options {
				all[i] = i
			}
			return all, nil
		}

		picked, ok := parseIndices(answer, len(options))
		if !ok {
			_, _ = fmt.Fprintf(p.w, "(enter numbers between 1 and %d, separated by commas)\n", len(options))
			continue
		}
		return picked, nil
	}
}

func parseIndices(answer string, n int) ([]int, bool) {
	set := make(map[int]bool)
	for _, part := range strings.Split(answer, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < 1 || v > n {
			return nil, false
		}
		set[v-1] = true
	}
	if len(set) == 0 {
		return nil, false
	}
	return sorted(set), true
}

func sorted(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
