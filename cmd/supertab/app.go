package main

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/rcourtman/supertab-client/internal/auth"
	"github.com/rcourtman/supertab-client/internal/config"
	"github.com/rcourtman/supertab-client/internal/logging"
	"github.com/rcourtman/supertab-client/internal/machine"
	"github.com/rcourtman/supertab-client/internal/mock"
	"github.com/rcourtman/supertab-client/internal/payment"
	"github.com/rcourtman/supertab-client/internal/tapperclient"
	"github.com/rcourtman/supertab-client/internal/transport"
)

const defaultMockSite = mock.SitePayPerGame

// app holds the collaborators shared by all commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	backend  machine.Backend
	payments payment.Provider
	// sheet is nil when payments are approved automatically.
	sheet    *payment.Sheet
	resolver *transport.Resolver
}

func newApp(cfg *config.Config, out io.Writer, autoApprove bool) *app {
	a := &app{cfg: cfg, logger: logging.ForComponent("app")}

	var approver payment.Approver = payment.AutoApprover(true)
	if !autoApprove {
		a.sheet = &payment.Sheet{}
		approver = a.sheet
	}

	if cfg.Mock {
		backend := mock.NewBackend(mock.Options{
			Latency:      cfg.MockLatency,
			Currency:     cfg.Currency,
			PaymentModel: cfg.PaymentModel,
			Logger:       logging.ForComponent("mock"),
		})
		a.backend = backend
		a.payments = backend.PaymentProvider(approver)
		return a
	}

	a.resolver = transport.NewResolver(cfg.DNSCacheTTL, logging.ForComponent("transport"))
	httpClient := transport.NewHTTPClient(transport.Options{
		Timeout:  cfg.HTTPTimeout,
		Resolver: a.resolver,
	})

	oauthSession := auth.NewSession(auth.SessionConfig{
		ClientID:     cfg.ClientID,
		AuthorizeURL: cfg.AuthorizeURL,
		TokenURL:     cfg.TokenURL,
		RedirectURL:  cfg.RedirectURL,
		HTTPClient:   httpClient,
	}, &auth.LoopbackAuthorizer{
		RedirectURL: cfg.RedirectURL,
		Out:         out,
		Logger:      logging.ForComponent("auth"),
	})
	tokens := auth.NewTokenManager(oauthSession, cfg.TokenRefreshLeeway, logging.ForComponent("auth"))

	a.backend = tapperclient.New(tapperclient.Options{
		BaseURL:      cfg.APIBaseURL,
		Currency:     cfg.Currency,
		PaymentModel: cfg.PaymentModel,
		HTTPClient:   httpClient,
		Tokens:       tokens,
		Logger:       logging.ForComponent("tapi"),
	})
	a.payments = payment.NewStripeProvider(payment.StripeConfig{
		PaymentMethod: cfg.StripePaymentMethod,
		APIURL:        cfg.StripeAPIURL,
		HTTPClient:    httpClient,
		Logger:        logging.ForComponent("stripe"),
	}, approver)
	return a
}

// start launches background services tied to ctx.
func (a *app) start(ctx context.Context) {
	if a.resolver != nil {
		go a.resolver.Run(ctx)
	}
	if a.cfg.MetricsAddr != "" {
		startMetricsServer(ctx, a.cfg.MetricsAddr)
	}
}

func (a *app) newMachine(onAdded func(machine.AddedItem)) *machine.Machine {
	return machine.New(machine.Deps{
		Backend:         a.backend,
		Payments:        a.payments,
		OnPurchaseAdded: onAdded,
		Logger:          logging.ForComponent("machine"),
	}, machine.Options{SiteID: a.cfg.SiteID})
}
