package recovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lamnq/durascan/internal/core/domain"
)

// Choice is one of the fixed CLI recovery menu options.
type Choice int

const (
	ChoiceNewKey Choice = iota + 1
	ChoiceBackupKey
	ChoiceSwitchProvider
	ChoiceRetry
	ChoiceAbort
)

// Prompter is the CLI interaction channel. A human-driven prompt may block
// indefinitely; end-of-input is reported as an error and treated as abort.
type Prompter interface {
	// Choose presents the recovery menu and reads one selection.
	Choose(ctx context.Context, provider, maskedKey string, kind domain.ErrorKind) (Choice, error)

	// NewSecret reads a replacement credential from the operator.
	NewSecret(ctx context.Context, provider string) (string, error)
}

// StdinPrompter reads menu selections from standard input.
type StdinPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewStdinPrompter creates a prompter over os.Stdin/os.Stdout.
func NewStdinPrompter() *StdinPrompter {
	return &StdinPrompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
	}
}

func (p *StdinPrompter) Choose(_ context.Context, provider, maskedKey string, kind domain.ErrorKind) (Choice, error) {
	fmt.Fprintf(p.out, "\nCredential failure on provider %q\n", provider)
	fmt.Fprintf(p.out, "  current key: %s\n", maskedKey)
	fmt.Fprintf(p.out, "  error kind:  %s\n\n", kind)
	fmt.Fprintln(p.out, "  1) supply a new API key")
	fmt.Fprintln(p.out, "  2) use the next backup key")
	fmt.Fprintln(p.out, "  3) switch provider")
	fmt.Fprintln(p.out, "  4) retry with the same key")
	fmt.Fprintln(p.out, "  5) abort")

	for {
		fmt.Fprint(p.out, "choice [1-5]: ")
		line, err := p.in.ReadString('\n')
		if err != nil {
			return 0, err
		}
		switch strings.TrimSpace(line) {
		case "1":
			return ChoiceNewKey, nil
		case "2":
			return ChoiceBackupKey, nil
		case "3":
			return ChoiceSwitchProvider, nil
		case "4":
			return ChoiceRetry, nil
		case "5":
			return ChoiceAbort, nil
		}
		fmt.Fprintln(p.out, "invalid selection")
	}
}

func (p *StdinPrompter) NewSecret(_ context.Context, provider string) (string, error) {
	fmt.Fprintf(p.out, "new API key for %s: ", provider)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
