package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"github.com/rcourtman/supertab-client/internal/metrics"
)

// DefaultPaymentMethod is Stripe's always-succeeding test card.
const DefaultPaymentMethod = "pm_card_visa"

// ErrRequiresAction is returned when the payment intent needs a step the
// terminal cannot perform, such as 3-D Secure.
var ErrRequiresAction = errors.New("payment requires additional customer action")

// StripeConfig configures StripeProvider.
type StripeConfig struct {
	PaymentMethod string
	APIURL        string // overrides the Stripe API endpoint; used in tests
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// StripeProvider confirms the Tab's PaymentIntent with the publishable key
// and client secret the Tab service handed out.
type StripeProvider struct {
	backend       stripe.Backend
	paymentMethod string
	approver      Approver
	logger        zerolog.Logger
}

// NewStripeProvider returns a provider that asks approver before charging.
func NewStripeProvider(cfg StripeConfig, approver Approver) *StripeProvider {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	pm := cfg.PaymentMethod
	if pm == "" {
		pm = DefaultPaymentMethod
	}
	if approver == nil {
		approver = AutoApprover(true)
	}
	return &StripeProvider{
		backend:       stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		paymentMethod: pm,
		approver:      approver,
		logger:        cfg.Logger,
	}
}

// CollectPayment implements Provider.
func (p *StripeProvider) CollectPayment(ctx context.Context, req Request) (result Result, err error) {
	started := time.Now()
	defer func() {
		outcome := metrics.OutcomeSuccess
		switch {
		case err != nil:
			outcome = metrics.OutcomeError
		case result == Canceled:
			outcome = metrics.OutcomeCanceled
		}
		metrics.RecordCollaboratorCall("collect_payment", outcome, started)
	}()

	intentID, err := PaymentIntentID(req.Details.ClientSecret)
	if err != nil {
		return Canceled, err
	}
	if req.Details.PublishableKey == "" {
		return Canceled, errors.New("missing publishable key")
	}

	approved, err := p.approver.Approve(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Canceled, nil
		}
		return Canceled, fmt.Errorf("payment sheet: %w", err)
	}
	if !approved {
		p.logger.Info().Str("payment_intent", intentID).Msg("Payment canceled by user")
		return Canceled, nil
	}

	client := paymentintent.Client{B: p.backend, Key: req.Details.PublishableKey}
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(p.paymentMethod),
	}
	params.Context = ctx
	params.AddExtra("client_secret", req.Details.ClientSecret)

	intent, err := client.Confirm(intentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
			return Canceled, fmt.Errorf("confirm payment intent: %s", stripeErr.Msg)
		}
		return Canceled, fmt.Errorf("confirm payment intent: %w", err)
	}

	log := p.logger.With().Str("payment_intent", intent.ID).Str("status", string(intent.Status)).Logger()
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		log.Info().Int64("amount", req.Amount).Msg("Payment confirmed")
		return Succeeded, nil
	case stripe.PaymentIntentStatusCanceled:
		log.Info().Msg("Payment intent canceled")
		return Canceled, nil
	case stripe.PaymentIntentStatusRequiresAction:
		return Canceled, ErrRequiresAction
	default:
		return Canceled, fmt.Errorf("unexpected payment intent status %q", intent.Status)
	}
}

// PaymentIntentID extracts the PaymentIntent id from its client secret
// ("pi_123_secret_abc" -> "pi_123").
func PaymentIntentID(clientSecret string) (string, error) {
	id, _, ok := strings.Cut(clientSecret, "_secret_")
	if !ok || id == "" {
		return "", fmt.Errorf("malformed client secret")
	}
	return id, nil
}
