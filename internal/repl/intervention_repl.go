// Package repl provides an interactive operator console for resolving
// lifecycle interventions: resources whose handler-declared fallback
// options have run out and need a human decision.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/steveyegge/vc/internal/supervisor"
)

// InterventionREPL is an interactive picker over a LifecycleManager's
// pending UserInterventionRequests. An operator lists pending requests,
// selects one, and either picks one of its FallbackOptions or aborts the
// resource outright.
type InterventionREPL struct {
	manager *supervisor.LifecycleManager
	rl      *readline.Instance
}

// NewInterventionREPL constructs a REPL bound to manager. Readline setup
// (history file, completer, prompt) is deferred to Run so construction
// never fails on a missing terminal.
func NewInterventionREPL(manager *supervisor.LifecycleManager) *InterventionREPL {
	return &InterventionREPL{manager: manager}
}

func (r *InterventionREPL) getHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vc_intervention_history"
	}
	dir := filepath.Join(home, ".vc")
	_ = os.MkdirAll(dir, 0o755)
	return filepath.Join(dir, "intervention_history")
}

func (r *InterventionREPL) createAutoCompleter() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("list"),
		readline.PcItem("resolve"),
		readline.PcItem("abort"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
	)
}

func (r *InterventionREPL) closeReadline() {
	if r.rl != nil {
		_ = r.rl.Close()
	}
}

// Run drives the main read-eval-print loop until the operator exits, ctx
// is cancelled, or stdin reaches EOF.
func (r *InterventionREPL) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            color.CyanString("lifecycle> "),
		HistoryFile:       r.getHistoryPath(),
		AutoComplete:      r.createAutoCompleter(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	r.rl = rl
	defer r.closeReadline()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
			_ = rl.Close()
		case <-ctx.Done():
		}
	}()

	r.printWelcome()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if done, err := r.processInput(ctx, line); done {
			return err
		}
	}
}

func (r *InterventionREPL) processInput(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "exit", "quit":
		return true, nil
	case "help", "?":
		r.printHelp()
	case "list", "ls":
		r.cmdList()
	case "resolve":
		r.cmdResolve(ctx, args)
	case "abort":
		r.cmdAbort(ctx, args)
	default:
		fmt.Fprintln(os.Stderr, color.YellowString("unknown command %q (try 'help')", cmd))
	}
	return false, nil
}

func (r *InterventionREPL) printWelcome() {
	fmt.Println(color.GreenString("lifecycle intervention console"))
	fmt.Println("type 'help' for commands, 'exit' to quit")
}

func (r *InterventionREPL) printHelp() {
	fmt.Println(`commands:
  list                 show pending intervention requests
  resolve <n> <option> apply fallback option <option> to request <n>
  abort <n> [reason]   abort the resource behind request <n>
  help                 show this message
  exit                 quit`)
}

func (r *InterventionREPL) pending() []supervisor.UserInterventionRequest {
	reqs := r.manager.GetPendingInterventions()
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].RequestID < reqs[j].RequestID })
	return reqs
}

func (r *InterventionREPL) cmdList() {
	reqs := r.pending()
	if len(reqs) == 0 {
		fmt.Println("no pending interventions")
		return
	}
	for i, req := range reqs {
		fmt.Printf("%s %s  resource=%s  %s\n", color.YellowString("[%d]", i), req.RequestID, req.ResourceID.String(), req.Error)
		for _, opt := range req.Options {
			marker := ""
			if opt.Destructive {
				marker = color.RedString(" (destructive)")
			}
			fmt.Printf("      %s — %s%s\n", opt.ID, opt.Description, marker)
		}
	}
}

func (r *InterventionREPL) cmdResolve(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: resolve <n> <option-id>")
		return
	}
	req, err := r.byIndex(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString(err.Error()))
		return
	}
	optionID := args[1]

	resolution := supervisor.InterventionResolution{
		RequestID:      req.RequestID,
		SelectedOption: optionID,
	}
	if err := r.manager.ResolveIntervention(ctx, resolution); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("resolve failed: %v", err))
		return
	}
	fmt.Println(color.GreenString("resolved %s via %q", req.RequestID, optionID))
}

func (r *InterventionREPL) cmdAbort(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: abort <n> [reason]")
		return
	}
	req, err := r.byIndex(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString(err.Error()))
		return
	}
	reason := "aborted by operator"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}

	if _, err := r.manager.RunRecoveryAction(ctx, req.ResourceID, supervisor.AbortAction(reason)); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("abort failed: %v", err))
		return
	}
	fmt.Println(color.GreenString("aborted resource behind %s", req.RequestID))
}

func (r *InterventionREPL) byIndex(s string) (supervisor.UserInterventionRequest, error) {
	idx, err := strconv.Atoi(s)
	if err != nil {
		return supervisor.UserInterventionRequest{}, fmt.Errorf("invalid index %q", s)
	}
	reqs := r.pending()
	if idx < 0 || idx >= len(reqs) {
		return supervisor.UserInterventionRequest{}, fmt.Errorf("no pending intervention at index %d", idx)
	}
	return reqs[idx], nil
}
