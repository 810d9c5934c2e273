// Package mock simulates the Tab service and payment provider in memory.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	apierrors "github.com/rcourtman/supertab-client/internal/errors"
	"github.com/rcourtman/supertab-client/internal/payment"
	"github.com/rcourtman/supertab-client/pkg/tab"
)

const (
	mockURL            = "mock://tapi"
	mockPublishableKey = "pk_test_mock"
)

// Options configures a Backend.
type Options struct {
	Latency      time.Duration // delay applied to every call
	Limit        int64         // tab limit in minor units; defaults to tab.DefaultLimit
	Currency     tab.Currency
	PaymentModel tab.PaymentModel
	Logger       zerolog.Logger
}

// Backend is an in-memory Tab service for a single user.
type Backend struct {
	latency      time.Duration
	limit        int64
	currency     tab.Currency
	paymentModel tab.PaymentModel
	logger       zerolog.Logger
	now          func() time.Time

	mu       sync.Mutex
	active   *tab.Tab
	closed   []*tab.Tab
	secrets  map[string]string // tab id -> client secret
	failures map[string]error  // op -> injected failure
}

// NewBackend returns an empty backend.
func NewBackend(opts Options) *Backend {
	limit := opts.Limit
	if limit <= 0 {
		limit = tab.DefaultLimit
	}
	paymentModel := opts.PaymentModel
	if paymentModel == "" {
		paymentModel = tab.PaymentModelPayLater
	}
	return &Backend{
		latency:      opts.Latency,
		limit:        limit,
		currency:     opts.Currency.Normalize(),
		paymentModel: paymentModel,
		logger:       opts.Logger,
		now:          time.Now,
		secrets:      make(map[string]string),
		failures:     make(map[string]error),
	}
}

// FailNext makes the next call of op ("fetch_tab", "fetch_config",
// "purchase", "start_payment", "check_access", "collect_payment") fail.
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

func (b *Backend) begin(ctx context.Context, op string) error {
	if b.latency > 0 {
		timer := time.NewTimer(b.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return apierrors.WrapTransportError(op, mockURL, ctx.Err())
		case <-timer.C:
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failures[op]; ok {
		delete(b.failures, op)
		return err
	}
	return nil
}

// FetchActiveTab returns a copy of the open or full tab, or nil.
func (b *Backend) FetchActiveTab(ctx context.Context) (*tab.Tab, error) {
	if err := b.begin(ctx, "fetch_tab"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active.Clone(), nil
}

// FetchClientConfig serves the built-in site catalogs.
func (b *Backend) FetchClientConfig(ctx context.Context, siteID string) (tab.ClientConfig, error) {
	if err := b.begin(ctx, "fetch_config"); err != nil {
		return tab.ClientConfig{}, err
	}
	cfg, ok := Catalog(siteID)
	if !ok {
		return tab.ClientConfig{}, apierrors.WrapStatusError("fetch_config", mockURL+"/v1/public/items/client/"+siteID+"/config", http.StatusNotFound, nil)
	}
	return cfg, nil
}

// Purchase adds the offering to the active tab, opening one if needed. A
// full tab is returned unchanged with ItemAdded == false.
func (b *Backend) Purchase(ctx context.Context, offeringID string, metadata tab.Metadata) (tab.PurchaseResult, error) {
	if err := b.begin(ctx, "purchase"); err != nil {
		return tab.PurchaseResult{}, err
	}
	offering, ok := findOffering(offeringID)
	if !ok {
		return tab.PurchaseResult{}, apierrors.WrapStatusError("purchase", mockURL+"/v1/purchase/"+offeringID, http.StatusNotFound, nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.active == nil {
		b.active = &tab.Tab{
			ID:           uuid.NewString(),
			Limit:        b.limit,
			Currency:     b.currency,
			Status:       tab.StatusOpen,
			PaymentModel: b.paymentModel,
			CreatedAt:    now,
		}
	}
	if b.active.IsFull() {
		b.logger.Debug().Str("tab_id", b.active.ID).Msg("Tab full, purchase not added")
		return tab.PurchaseResult{Tab: b.active.Clone(), ItemAdded: false}, nil
	}

	p := tab.PurchaseFromOffering(offering, now)
	p.ID = ulid.Make().String()
	for k, v := range metadata {
		if p.Metadata == nil {
			p.Metadata = tab.Metadata{}
		}
		p.Metadata[k] = v
	}
	if key, ok := contentKeyFor(offering.ID); ok {
		p.ContentKey = key
	}
	b.active.Purchases = append(b.active.Purchases, p)
	b.active.Total += offering.Price.Amount
	b.active.UpdatedAt = now
	b.active.Normalize()

	b.logger.Debug().
		Str("tab_id", b.active.ID).
		Str("offering_id", offering.ID).
		Int64("total", b.active.Total).
		Str("status", string(b.active.Status)).
		Msg("Purchase added to tab")
	return tab.PurchaseResult{Tab: b.active.Clone(), ItemAdded: true}, nil
}

// StartPayment issues a client secret for the active tab.
func (b *Backend) StartPayment(ctx context.Context, tabID string) (tab.PaymentDetails, error) {
	if err := b.begin(ctx, "start_payment"); err != nil {
		return tab.PaymentDetails{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil || b.active.ID != tabID {
		return tab.PaymentDetails{}, apierrors.WrapStatusError("start_payment", mockURL+"/v1/payment/start/"+tabID, http.StatusNotFound, nil)
	}
	secret := fmt.Sprintf("pi_%s_secret_%s", ulid.Make().String(), uuid.NewString())
	b.secrets[tabID] = secret
	return tab.PaymentDetails{TabID: tabID, ClientSecret: secret, PublishableKey: mockPublishableKey}, nil
}

// CheckAccess grants access while a time-pass purchase for the key (a
// content key or offering id) is still valid.
func (b *Backend) CheckAccess(ctx context.Context, key string) (tab.AccessGrant, error) {
	if err := b.begin(ctx, "check_access"); err != nil {
		return tab.AccessGrant{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	grant := tab.AccessGrant{ContentKey: key}
	tabs := append(slices.Clone(b.closed), b.active)
	for _, t := range tabs {
		if t == nil {
			continue
		}
		for _, p := range t.Purchases {
			if p.OfferingID != key && p.ContentKey != key {
				continue
			}
			if p.ValidTo == nil || !now.Before(*p.ValidTo) {
				continue
			}
			if grant.ValidTo == nil || p.ValidTo.After(*grant.ValidTo) {
				grant.Granted = true
				grant.OfferingID = p.OfferingID
				grant.PurchaseID = p.ID
				grant.ValidFrom = p.ValidFrom
				grant.ValidTo = p.ValidTo
			}
		}
	}
	return grant, nil
}

// settle closes the active tab once its client secret has been confirmed.
func (b *Backend) settle(details tab.PaymentDetails) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil || b.active.ID != details.TabID {
		return fmt.Errorf("tab %s is not awaiting payment", details.TabID)
	}
	if b.secrets[details.TabID] != details.ClientSecret {
		return fmt.Errorf("client secret does not match tab %s", details.TabID)
	}
	now := b.now()
	b.active.Status = tab.StatusClosed
	b.active.PaidAt = &now
	b.active.UpdatedAt = now
	b.closed = append(b.closed, b.active)
	delete(b.secrets, details.TabID)
	b.logger.Info().Str("tab_id", b.active.ID).Int64("total", b.active.Total).Msg("Tab paid")
	b.active = nil
	return nil
}

// PaymentProvider returns a provider that settles tabs on this backend
// after approver accepts the charge.
func (b *Backend) PaymentProvider(approver payment.Approver) payment.Provider {
	if approver == nil {
		approver = payment.AutoApprover(true)
	}
	return &provider{backend: b, approver: approver}
}

type provider struct {
	backend  *Backend
	approver payment.Approver
}

func (p *provider) CollectPayment(ctx context.Context, req payment.Request) (payment.Result, error) {
	approved, err := p.approver.Approve(ctx, req)
	if err != nil {
		return payment.Canceled, err
	}
	if !approved {
		return payment.Canceled, nil
	}
	if err := p.backend.begin(ctx, "collect_payment"); err != nil {
		return payment.Canceled, err
	}
	if err := p.backend.settle(req.Details); err != nil {
		return payment.Canceled, err
	}
	return payment.Succeeded, nil
}

func findOffering(id string) (tab.Offering, bool) {
	for _, site := range SiteIDs() {
		cfg, _ := Catalog(site)
		if o, ok := tab.FindOffering(cfg.Offerings, id); ok {
			return o, true
		}
	}
	return tab.Offering{}, false
}

func contentKeyFor(offeringID string) (string, bool) {
	for _, site := range SiteIDs() {
		cfg, _ := Catalog(site)
		for _, ck := range cfg.ContentKeys {
			if slices.Contains(ck.OfferingIDs, offeringID) {
				return ck.Key, true
			}
		}
	}
	return "", false
}
