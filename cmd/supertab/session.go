package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rcourtman/supertab-client/internal/logging"
	"github.com/rcourtman/supertab-client/internal/machine"
	"github.com/rcourtman/supertab-client/internal/payment"
	"github.com/rcourtman/supertab-client/pkg/tab"
)

const sessionHelp = `Commands:
  offerings          list offerings (* marks the selection)
  start              open the purchase sheet
  select <n|id>      select an offering
  add [n|id]         add the selected (or given) offering to your Tab
  pay                pay a full Tab
  confirm | cancel   answer the payment sheet
  dismiss            close the purchase sheet
  check              re-check content access
  refresh            reload the site configuration
  play               spend one game credit
  read               open the paid article
  tab                show the current Tab
  status             show the machine state
  quit               leave
`

// syncWriter serializes writes from the prompt loop, the renderer and the
// purchase callback.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type session struct {
	app    *app
	out    io.Writer
	m      *machine.Machine
	ledger *ledger
}

// runSession drives a purchase machine from line commands on in until quit,
// EOF or ctx cancellation.
func runSession(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	out = &syncWriter{w: out}
	s := &session{app: a, out: out, ledger: newLedger(out, logging.ForComponent("ledger"))}
	s.m = a.newMachine(s.ledger.Credit)

	updates, unsubscribe := s.m.Subscribe()
	defer unsubscribe()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- s.m.Run(runCtx) }()
	defer s.m.Close()

	go s.render(runCtx, updates)

	fmt.Fprintf(out, "Loading offerings for %s...\n", a.cfg.SiteID)
	if err := s.m.Send(machine.FetchConfig{}); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-runCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(strings.Fields(line)); quit {
				return nil
			}
		}
	}
}

// handle runs one command and reports whether the session should end.
func (s *session) handle(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	snap := s.m.Status()

	var err error
	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprint(s.out, sessionHelp)
	case "offerings", "ls":
		printOfferings(s.out, snap.Context.Offerings, snap.Context.SelectedOffering)
	case "start", "buy":
		err = s.m.Send(machine.StartPurchase{})
	case "select":
		var o tab.Offering
		if o, err = s.resolveOffering(snap, args); err == nil {
			err = s.m.Send(machine.SelectOffering{Offering: o})
		}
	case "add":
		ev := machine.AddToTab{}
		if len(args) > 0 {
			var o tab.Offering
			if o, err = s.resolveOffering(snap, args); err != nil {
				break
			}
			if err = s.m.Send(machine.SelectOffering{Offering: o}); err != nil {
				break
			}
			ev.Offering = o
		}
		err = s.m.Send(ev)
	case "pay":
		err = s.m.Send(machine.ShowApplePayPaymentSheet{})
	case "confirm", "cancel":
		err = s.answerSheet(cmd == "confirm")
	case "dismiss", "close":
		err = s.m.Send(machine.Dismiss{})
	case "check":
		err = s.m.Send(machine.CheckAccess{})
	case "refresh":
		err = s.m.Send(machine.FetchConfig{})
	case "play":
		if left, ok := s.ledger.Play(); ok {
			fmt.Fprintf(s.out, "Playing a game. %d left.\n", left)
		} else {
			fmt.Fprintln(s.out, "No games left. Use start to buy more.")
		}
	case "read":
		if snap.Context.HasAccessAt(time.Now()) {
			fmt.Fprintf(s.out, "Enjoy the article. Access granted %s.\n", accessUntil(*snap.Context.AccessValidTo, time.TimeOnly))
		} else {
			fmt.Fprintln(s.out, "This article requires an access pass. Use start to buy one.")
		}
	case "tab":
		printTab(s.out, snap.Context.Tab)
	case "status":
		s.printStatus(snap)
	default:
		fmt.Fprintf(s.out, "Unknown command %q. Type help for a list.\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

// resolveOffering accepts a 1-based index into the catalog or an offering id.
func (s *session) resolveOffering(snap machine.Snapshot, args []string) (tab.Offering, error) {
	if len(args) == 0 {
		return tab.Offering{}, errors.New("which offering? give its number or id")
	}
	offerings := snap.Context.Offerings
	if n, err := strconv.Atoi(args[0]); err == nil {
		if n < 1 || n > len(offerings) {
			return tab.Offering{}, fmt.Errorf("offering %d does not exist", n)
		}
		return offerings[n-1], nil
	}
	if o, ok := tab.FindOffering(offerings, args[0]); ok {
		return o, nil
	}
	return tab.Offering{}, fmt.Errorf("unknown offering %q", args[0])
}

func (s *session) answerSheet(approve bool) error {
	if s.app.sheet == nil {
		return errors.New("payments are approved automatically")
	}
	req, ok := s.app.sheet.Pending()
	if !ok {
		return payment.ErrNoPendingSheet
	}
	if approve {
		fmt.Fprintf(s.out, "Paying %s...\n", tab.FormatAmount(req.Amount, req.Currency))
	}
	return s.app.sheet.Resolve(approve)
}

func (s *session) printStatus(snap machine.Snapshot) {
	c := snap.Context
	fmt.Fprintf(s.out, "State: %s (episode %d)\n", snap.State, snap.Episode)
	if c.SelectedOffering != nil {
		fmt.Fprintf(s.out, "Selected: %s (%s)\n", c.SelectedOffering.Summary, c.SelectedOffering.Price)
	}
	if c.Tab != nil {
		fmt.Fprintf(s.out, "Tab: %s of %s (%s left)\n", tab.FormatAmount(c.Tab.Total, c.Tab.Currency),
			tab.FormatAmount(c.Tab.Limit, c.Tab.Currency), tab.FormatAmount(c.Tab.Remaining(), c.Tab.Currency))
	}
	if c.AccessValidTo != nil {
		fmt.Fprintf(s.out, "Access: granted %s\n", accessUntil(*c.AccessValidTo, time.DateTime))
	}
	if c.ErrorMessage != "" {
		fmt.Fprintf(s.out, "Last error: %s\n", c.ErrorMessage)
	}
	if games := s.ledger.Games(); games > 0 {
		fmt.Fprintf(s.out, "Games: %d\n", games)
	}
	fmt.Fprintf(s.out, "Available: %s\n", strings.Join(availableCommands(snap.State), ", "))
}

// intents maps session commands to the event they send.
var intents = []struct {
	command string
	kind    machine.EventKind
}{
	{"start", machine.KindStartPurchase},
	{"select", machine.KindSelectOffering},
	{"add", machine.KindAddToTab},
	{"pay", machine.KindShowApplePayPaymentSheet},
	{"dismiss", machine.KindDismiss},
	{"check", machine.KindCheckAccess},
	{"refresh", machine.KindFetchConfig},
}

// availableCommands lists the commands whose event s has a transition for.
func availableCommands(s machine.State) []string {
	var out []string
	for _, in := range intents {
		if machine.Accepts(s, in.kind) {
			out = append(out, in.command)
		}
	}
	return out
}

// render prints what changed between consecutive snapshots.
func (s *session) render(ctx context.Context, updates <-chan machine.Snapshot) {
	var prev machine.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			s.renderChange(prev, snap)
			prev = snap
		}
	}
}

func (s *session) renderChange(prev, snap machine.Snapshot) {
	c := snap.Context
	if snap.State != prev.State {
		switch snap.State {
		case machine.StateIdle:
			if prev.State == machine.StateFetchingConfig {
				fmt.Fprintf(s.out, "%d offerings loaded. Type start to buy, help for commands.\n", len(c.Offerings))
			} else {
				fmt.Fprintln(s.out, "Purchase sheet closed.")
			}
		case machine.StateShowingOfferings:
			fmt.Fprintln(s.out, "Choose an offering:")
			printOfferings(s.out, c.Offerings, c.SelectedOffering)
			if c.Tab != nil {
				fmt.Fprintf(s.out, "Your Tab: %s of %s\n", tab.FormatAmount(c.Tab.Total, c.Tab.Currency), tab.FormatAmount(c.Tab.Limit, c.Tab.Currency))
			}
		case machine.StateItemAdded:
			fmt.Fprintln(s.out, "Added to your Tab. Type dismiss to continue.")
		case machine.StatePaymentRequired:
			if c.Tab != nil {
				fmt.Fprintf(s.out, "Your Tab is full: %s. Type pay to settle it.\n", tab.FormatAmount(c.Tab.Total, c.Tab.Currency))
			}
		case machine.StateShowingApplePayPaymentSheet:
			if s.app.sheet != nil && c.Tab != nil {
				fmt.Fprintf(s.out, "Pay %s? Type confirm or cancel.\n", tab.FormatAmount(c.Tab.Total, c.Tab.Currency))
			}
		case machine.StateTabPaid:
			fmt.Fprintln(s.out, "Tab paid. Thank you!")
		case machine.StateError:
			fmt.Fprintf(s.out, "Something went wrong: %s\n", c.ErrorMessage)
		}
	}
	if !c.IsCheckingAccess && prev.Context.IsCheckingAccess && c.AccessValidTo != nil {
		if prev.Context.AccessValidTo == nil || !prev.Context.AccessValidTo.Equal(*c.AccessValidTo) {
			fmt.Fprintf(s.out, "Access granted %s\n", accessUntil(*c.AccessValidTo, time.TimeOnly))
		}
	}
}
