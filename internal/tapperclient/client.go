// Package tapperclient is the HTTP client for the Tab service API.
package tapperclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apierrors "github.com/rcourtman/supertab-client/internal/errors"
	"github.com/rcourtman/supertab-client/internal/logging"
	"github.com/rcourtman/supertab-client/internal/metrics"
	"github.com/rcourtman/supertab-client/pkg/tab"
)

const maxResponseBytes = 1 << 20

// TokenSource supplies bearer tokens.
type TokenSource interface {
	EnsureValidAccessToken(ctx context.Context) (string, error)
}

// invalidator is implemented by token sources that can drop a token the
// service rejected.
type invalidator interface {
	Invalidate()
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	Currency     tab.Currency
	PaymentModel tab.PaymentModel
	HTTPClient   *http.Client
	Tokens       TokenSource
	Logger       zerolog.Logger
}

// Client talks to the Tab service on behalf of one signed-in user.
type Client struct {
	baseURL      string
	currency     tab.Currency
	paymentModel tab.PaymentModel
	http         *http.Client
	tokens       TokenSource
	logger       zerolog.Logger
}

// New returns a Client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	paymentModel := opts.PaymentModel
	if paymentModel == "" {
		paymentModel = tab.PaymentModelPayLater
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		currency:     opts.Currency.Normalize(),
		paymentModel: paymentModel,
		http:         httpClient,
		tokens:       opts.Tokens,
		logger:       opts.Logger,
	}
}

// FetchActiveTab returns the user's active tab, or nil when there is none.
func (c *Client) FetchActiveTab(ctx context.Context) (*tab.Tab, error) {
	q := url.Values{}
	q.Set("payment_model", string(c.paymentModel))
	q.Set("currency", string(c.currency))
	q.Set("is_active", "true")

	var page tabPage
	if err := c.do(ctx, "fetch_tab", http.MethodGet, "/v1/tabs", q, nil, &page, http.StatusOK); err != nil {
		return nil, err
	}
	if len(page.Data) == 0 {
		return nil, nil
	}
	return page.Data[0].toTab(), nil
}

// FetchClientConfig returns the offering catalog configured for a site.
func (c *Client) FetchClientConfig(ctx context.Context, siteID string) (tab.ClientConfig, error) {
	if strings.TrimSpace(siteID) == "" {
		return tab.ClientConfig{}, apierrors.NewValidationError("fetch_config", "empty site id")
	}
	var resp clientConfigResponse
	path := "/v1/public/items/client/" + url.PathEscape(siteID) + "/config"
	if err := c.do(ctx, "fetch_config", http.MethodGet, path, nil, nil, &resp, http.StatusOK); err != nil {
		return tab.ClientConfig{}, err
	}
	return resp.toClientConfig(), nil
}

// Purchase adds an offering to the user's tab. A full tab is reported as
// ItemAdded == false rather than as an error.
func (c *Client) Purchase(ctx context.Context, offeringID string, metadata tab.Metadata) (tab.PurchaseResult, error) {
	if strings.TrimSpace(offeringID) == "" {
		return tab.PurchaseResult{}, apierrors.NewValidationError("purchase", "empty offering id")
	}
	body := purchaseRequest{Metadata: metadata}
	var resp purchaseItemResponse
	path := "/v1/purchase/" + url.PathEscape(offeringID)
	if err := c.do(ctx, "purchase", http.MethodPost, path, nil, body, &resp, http.StatusCreated, http.StatusPaymentRequired); err != nil {
		return tab.PurchaseResult{}, err
	}
	return tab.PurchaseResult{Tab: resp.Tab.toTab(), ItemAdded: resp.Detail.ItemAdded}, nil
}

// StartPayment returns the secrets needed to collect payment for a tab.
func (c *Client) StartPayment(ctx context.Context, tabID string) (tab.PaymentDetails, error) {
	if strings.TrimSpace(tabID) == "" {
		return tab.PaymentDetails{}, apierrors.NewValidationError("start_payment", "empty tab id")
	}
	var resp paymentStartResponse
	path := "/v1/payment/start/" + url.PathEscape(tabID)
	if err := c.do(ctx, "start_payment", http.MethodGet, path, nil, nil, &resp, http.StatusOK); err != nil {
		return tab.PaymentDetails{}, err
	}
	return tab.PaymentDetails{
		TabID:          tabID,
		ClientSecret:   resp.ClientSecret,
		PublishableKey: resp.PublishableKey,
	}, nil
}

// CheckAccess reports whether the user may access the content key.
func (c *Client) CheckAccess(ctx context.Context, contentKey string) (tab.AccessGrant, error) {
	q := url.Values{}
	q.Set("content_key", contentKey)

	var resp accessResponse
	if err := c.do(ctx, "check_access", http.MethodGet, "/v2/access/check", q, nil, &resp, http.StatusOK); err != nil {
		return tab.AccessGrant{}, err
	}
	if resp.Error != nil {
		c.logger.Debug().
			Str("content_key", contentKey).
			Str("code", resp.Error.Code).
			Str("message", resp.Error.Message).
			Msg("Access not granted")
	}
	return resp.toGrant(contentKey), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any, okStatuses ...int) (err error) {
	started := time.Now()
	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
		}
		metrics.RecordCollaboratorCall(op, outcome, started)
	}()

	if c.tokens == nil {
		return apierrors.WrapAuthError(op, apierrors.ErrMissingTokens)
	}
	token, err := c.tokens.EnsureValidAccessToken(ctx)
	if err != nil {
		return apierrors.WrapAuthError(op, err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	ctx, requestID := logging.WithRequestID(ctx, logging.RequestIDFromContext(ctx))
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	log := c.logger.With().Str("op", op).Str("request_id", requestID).Logger()
	log.Debug().Str("method", method).Str("url", endpoint).Msg("Requesting")

	resp, err := c.http.Do(req)
	if err != nil {
		return apierrors.WrapTransportError(op, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apierrors.WrapTransportError(op, endpoint, err)
	}

	if !slices.Contains(okStatuses, resp.StatusCode) {
		log.Warn().Int("status", resp.StatusCode).Str("body", truncate(data, 256)).Msg("Unexpected response status")
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := c.tokens.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return apierrors.WrapStatusError(op, endpoint, resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apierrors.WrapDecodeError(op, endpoint, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
