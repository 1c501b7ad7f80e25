package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fathomline/agentcore/internal/domain/approval"
)

// NewInteractivePrompter returns an approval.Prompter that prints the
// pending call to stdout and reads a single-line decision from stdin. It is
// used by the interactive REPL; the headless ask command passes a nil
// Prompter to approval.NewBroker instead, which denies by default.
func NewInteractivePrompter() approval.Prompter {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx context.Context, req approval.Request) (approval.Decision, error) {
		fmt.Printf("\n%s⚠ approval required%s — %s%s%s\n", yellow, reset, bold, req.ToolName, reset)
		if req.Reason != "" {
			fmt.Printf("%s  %s%s\n", dimText, req.Reason, reset)
		}
		for k, v := range req.Args {
			fmt.Printf("%s  %s: %v%s\n", dimText, k, v, reset)
		}
		fmt.Printf("%s  [y] once  [a] always this session  [n] deny%s ❯ ", dimText, reset)

		done := make(chan struct {
			line string
			err  error
		}, 1)
		go func() {
			line, err := reader.ReadString('\n')
			done <- struct {
				line string
				err  error
			}{line, err}
		}()

		select {
		case <-ctx.Done():
			return approval.Decision{Outcome: approval.Denied}, ctx.Err()
		case r := <-done:
			if r.err != nil {
				return approval.Decision{Outcome: approval.Denied}, r.err
			}
			switch strings.ToLower(strings.TrimSpace(r.line)) {
			case "a", "always":
				return approval.Decision{Outcome: approval.ApprovedForSession}, nil
			case "y", "yes", "":
				return approval.Decision{Outcome: approval.Approved}, nil
			default:
				return approval.Decision{Outcome: approval.Denied}, nil
			}
		}
	}
}
