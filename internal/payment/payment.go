// Package payment collects payment for a full Tab through a payment
// provider, after the user approves the charge on a payment sheet.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rcourtman/supertab-client/pkg/tab"
)

// Result is the non-error outcome of a payment attempt.
type Result int

const (
	Succeeded Result = iota
	Canceled
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Request describes one charge.
type Request struct {
	Amount   int64
	Currency tab.Currency
	Details  tab.PaymentDetails
}

// Provider collects payment. Errors are failures; a user who backs out is
// reported as Canceled with a nil error.
type Provider interface {
	CollectPayment(ctx context.Context, req Request) (Result, error)
}

// Approver presents the charge to the user and reports whether it was
// approved.
type Approver interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// AutoApprover approves or declines every charge without asking.
type AutoApprover bool

// Approve implements Approver.
func (a AutoApprover) Approve(context.Context, Request) (bool, error) {
	return bool(a), nil
}

// ErrNoPendingSheet is returned by Sheet.Resolve when nothing awaits approval.
var ErrNoPendingSheet = errors.New("no payment sheet is being shown")

// Sheet is an Approver driven by an interactive front end: Approve blocks
// until the front end calls Resolve.
type Sheet struct {
	mu      sync.Mutex
	pending *pendingSheet
}

type pendingSheet struct {
	req    Request
	answer chan bool
}

// Approve implements Approver.
func (s *Sheet) Approve(ctx context.Context, req Request) (bool, error) {
	p := &pendingSheet{req: req, answer: make(chan bool, 1)}

	s.mu.Lock()
	s.pending = p
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.pending == p {
			s.pending = nil
		}
		s.mu.Unlock()
	}()

	select {
	case ok := <-p.answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Pending returns the charge awaiting approval, if any.
func (s *Sheet) Pending() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Request{}, false
	}
	return s.pending.req, true
}

// Resolve answers the pending sheet.
func (s *Sheet) Resolve(approved bool) error {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()

	if p == nil {
		return ErrNoPendingSheet
	}
	p.answer <- approved
	return nil
}
