package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rcourtman/supertab-client/internal/machine"
	"github.com/rcourtman/supertab-client/pkg/tab"
)

// ledger consumes purchase notifications: game offerings credit games that
// can be played one at a time.
type ledger struct {
	out    io.Writer
	logger zerolog.Logger

	mu    sync.Mutex
	games int
}

func newLedger(out io.Writer, logger zerolog.Logger) *ledger {
	return &ledger{out: out, logger: logger}
}

// Credit is the machine's purchase-added callback.
func (l *ledger) Credit(item machine.AddedItem) {
	if n, ok := item.Offering.GameCredits(); ok {
		l.mu.Lock()
		l.games += n
		total := l.games
		l.mu.Unlock()
		l.logger.Info().Int("credited", n).Int("games", total).Str("purchase_id", item.Purchase.ID).Msg("Games credited")
		fmt.Fprintf(l.out, "+%d game(s), %d available\n", n, total)
		return
	}
	if item.Purchase.ValidTo != nil {
		fmt.Fprintf(l.out, "Access pass bought, valid for %s\n", tab.FormatTimedelta(item.Purchase.ValidTo.Sub(item.Purchase.PurchaseDate)))
		return
	}
	fmt.Fprintf(l.out, "Added %s to your Tab\n", item.Offering.Summary)
}

// Play spends one game. It reports false when none is left.
func (l *ledger) Play() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.games == 0 {
		return 0, false
	}
	l.games--
	return l.games, true
}

// Games returns the number of unplayed games.
func (l *ledger) Games() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.games
}
