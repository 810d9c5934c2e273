package tapperclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rcourtman/supertab-client/pkg/tab"
)

// Wire types for the Tab service. Keys are snake_case; tab and purchase
// timestamps are RFC 3339 with optional fractional seconds, access check
// timestamps are unix seconds.

type priceResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type paginationLinks struct {
	Previous *string `json:"previous"`
	Next     *string `json:"next"`
}

type paginationMetadata struct {
	Count       int             `json:"count"`
	PerPage     int             `json:"per_page"`
	NumberPages int             `json:"number_pages"`
	Links       paginationLinks `json:"links"`
}

type tabPage struct {
	Data     []tabResponse      `json:"data"`
	Metadata paginationMetadata `json:"metadata"`
}

type tabResponse struct {
	ID           string             `json:"id"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	MerchantID   *string            `json:"merchant_id"`
	UserID       string             `json:"user_id"`
	Status       string             `json:"status"`
	PaidAt       *time.Time         `json:"paid_at"`
	Total        int64              `json:"total"`
	Limit        int64              `json:"limit"`
	Currency     string             `json:"currency"`
	PaymentModel string             `json:"payment_model"`
	Purchases    []purchaseResponse `json:"purchases"`
	Metadata     map[string]string  `json:"metadata"`
	TestMode     bool               `json:"test_mode"`
}

type purchaseResponse struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	PurchaseDate   time.Time         `json:"purchase_date"`
	MerchantID     string            `json:"merchant_id"`
	Summary        string            `json:"summary"`
	Price          priceResponse     `json:"price"`
	SalesModel     string            `json:"sales_model"`
	PaymentModel   string            `json:"payment_model"`
	Metadata       map[string]string `json:"metadata"`
	AttributedTo   *string           `json:"attributed_to"`
	OfferingID     string            `json:"offering_id"`
	ContentKey     *string           `json:"content_key"`
	TestMode       bool              `json:"test_mode"`
	ValidFrom      *time.Time        `json:"valid_from"`
	ValidTo        *time.Time        `json:"valid_to"`
	ValidTimedelta *string           `json:"valid_timedelta"`
}

type timePassDetails struct {
	ValidTimedelta string `json:"valid_timedelta"`
}

type siteOffering struct {
	ID              string            `json:"id"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ItemTemplateID  string            `json:"item_template_id"`
	Description     string            `json:"description"`
	Summary         string            `json:"summary"`
	Price           priceResponse     `json:"price"`
	SalesModel      string            `json:"sales_model"`
	PaymentModel    string            `json:"payment_model"`
	TimePassDetails *timePassDetails  `json:"time_pass_details"`
	Metadata        map[string]string `json:"metadata"`
}

type siteContentKey struct {
	ItemTemplateID  string   `json:"item_template_id"`
	ItemOfferingIDs []string `json:"item_offering_ids"`
	ContentKey      string   `json:"content_key"`
}

type clientConfigResponse struct {
	RedirectURI string           `json:"redirect_uri"`
	Offerings   []siteOffering   `json:"offerings"`
	ContentKeys []siteContentKey `json:"content_keys"`
	SiteName    string           `json:"site_name"`
	TestMode    bool             `json:"test_mode"`
}

type purchaseRequest struct {
	Metadata     map[string]string `json:"metadata,omitempty"`
	AttributedTo string            `json:"attributed_to,omitempty"`
}

type purchaseDetail struct {
	ItemAdded bool `json:"item_added"`
}

type purchaseItemResponse struct {
	Tab    tabResponse    `json:"tab"`
	Detail purchaseDetail `json:"detail"`
}

type paymentStartResponse struct {
	ClientSecret   string `json:"client_secret"`
	PublishableKey string `json:"publishable_key"`
}

const accessStatusGranted = "Granted"

type accessError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type accessFull struct {
	ValidFrom      unixTime `json:"valid_from"`
	ValidTimedelta string   `json:"valid_timedelta"`
	ValidTo        unixTime `json:"valid_to"`
	CreatedAt      unixTime `json:"created_at"`
	ContentKey     string   `json:"content_key"`
	MerchantID     string   `json:"merchant_id"`
	OfferingID     string   `json:"offering_id"`
	PurchaseID     string   `json:"purchase_id"`
	Status         string   `json:"status"`
}

type accessResponse struct {
	Error  *accessError `json:"error"`
	Access *accessFull  `json:"access"`
}

// unixTime decodes integer or fractional seconds since the epoch.
type unixTime struct {
	time.Time
}

func (u *unixTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		u.Time = time.Time{}
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid unix timestamp %s: %w", data, err)
	}
	whole := int64(secs)
	nanos := int64((secs - float64(whole)) * float64(time.Second))
	u.Time = time.Unix(whole, nanos).UTC()
	return nil
}

func (u unixTime) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(u.Unix())
}

func (u unixTime) ptr() *time.Time {
	if u.IsZero() {
		return nil
	}
	t := u.Time
	return &t
}

func (p priceResponse) toPrice() tab.Price {
	return tab.Price{Amount: p.Amount, Currency: tab.Currency(p.Currency).Normalize()}
}

func (r tabResponse) toTab() *tab.Tab {
	t := &tab.Tab{
		ID:           r.ID,
		Total:        r.Total,
		Limit:        r.Limit,
		Currency:     tab.Currency(r.Currency),
		Status:       tab.Status(r.Status),
		PaymentModel: tab.PaymentModel(r.PaymentModel),
		Purchases:    make([]tab.Purchase, 0, len(r.Purchases)),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		PaidAt:       r.PaidAt,
	}
	for _, p := range r.Purchases {
		t.Purchases = append(t.Purchases, p.toPurchase())
	}
	t.SortPurchases()
	t.Normalize()
	return t
}

func (r purchaseResponse) toPurchase() tab.Purchase {
	p := tab.Purchase{
		ID:           r.ID,
		PurchaseDate: r.PurchaseDate,
		OfferingID:   r.OfferingID,
		Summary:      r.Summary,
		Price:        r.Price.toPrice(),
		SalesModel:   tab.SalesModel(r.SalesModel),
		PaymentModel: tab.PaymentModel(r.PaymentModel),
		ValidFrom:    r.ValidFrom,
		ValidTo:      r.ValidTo,
	}
	if len(r.Metadata) > 0 {
		p.Metadata = tab.Metadata(r.Metadata)
	}
	if r.ContentKey != nil {
		p.ContentKey = *r.ContentKey
	}
	if r.ValidTimedelta != nil {
		p.ValidTimedelta = *r.ValidTimedelta
	}
	return p
}

func (o siteOffering) toOffering() tab.Offering {
	var md tab.Metadata
	if len(o.Metadata) > 0 {
		md = tab.Metadata(o.Metadata)
	}
	validTimedelta := ""
	if o.TimePassDetails != nil {
		validTimedelta = o.TimePassDetails.ValidTimedelta
	}
	sales := tab.SalesModel(o.SalesModel)
	return tab.Offering{
		ID:             o.ID,
		ItemTemplateID: o.ItemTemplateID,
		Summary:        o.Summary,
		Description:    o.Description,
		Price:          o.Price.toPrice(),
		PaymentModel:   tab.PaymentModel(o.PaymentModel),
		SalesModel:     sales,
		Metadata:       md,
		Extension:      tab.ExtensionFor(sales, md, validTimedelta),
	}
}

func (c clientConfigResponse) toClientConfig() tab.ClientConfig {
	cfg := tab.ClientConfig{
		SiteName:    c.SiteName,
		RedirectURI: c.RedirectURI,
		TestMode:    c.TestMode,
		Offerings:   make([]tab.Offering, 0, len(c.Offerings)),
		ContentKeys: make([]tab.ContentKey, 0, len(c.ContentKeys)),
	}
	for _, o := range c.Offerings {
		cfg.Offerings = append(cfg.Offerings, o.toOffering())
	}
	for _, k := range c.ContentKeys {
		cfg.ContentKeys = append(cfg.ContentKeys, tab.ContentKey{
			Key:            k.ContentKey,
			ItemTemplateID: k.ItemTemplateID,
			OfferingIDs:    k.ItemOfferingIDs,
		})
	}
	return cfg
}

func (r accessResponse) toGrant(contentKey string) tab.AccessGrant {
	grant := tab.AccessGrant{ContentKey: contentKey}
	if r.Access == nil {
		return grant
	}
	grant.Granted = r.Access.Status == accessStatusGranted
	grant.OfferingID = r.Access.OfferingID
	grant.PurchaseID = r.Access.PurchaseID
	grant.ValidFrom = r.Access.ValidFrom.ptr()
	grant.ValidTo = r.Access.ValidTo.ptr()
	if r.Access.ContentKey != "" {
		grant.ContentKey = r.Access.ContentKey
	}
	return grant
}
