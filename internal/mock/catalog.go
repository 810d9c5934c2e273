package mock

import (
	"sort"

	"github.com/rcourtman/supertab-client/pkg/tab"
)

// Built-in site ids.
const (
	SitePayPerGame   = "pay-per-game"
	SitePayForAccess = "pay-for-access"
)

func usd(amount int64) tab.Price {
	return tab.Price{Amount: amount, Currency: tab.CurrencyUSD}
}

func gameOffering(id, summary string, amount int64, games string) tab.Offering {
	md := tab.Metadata{tab.MetadataGameCredits: games}
	return tab.Offering{
		ID:             id,
		ItemTemplateID: "poc.ios.pay-per-game",
		Summary:        summary,
		Description:    "Unlocks " + summary + " of Memory",
		Price:          usd(amount),
		PaymentModel:   tab.PaymentModelPayMerchantLater,
		SalesModel:     tab.SalesModelSinglePurchase,
		Metadata:       md,
		Extension:      tab.ExtensionFor(tab.SalesModelSinglePurchase, md, ""),
	}
}

func timePassOffering(id, summary string, amount int64, valid string) tab.Offering {
	return tab.Offering{
		ID:             id,
		ItemTemplateID: "poc.ios.pay-for-access",
		Summary:        summary,
		Description:    summary + " of access",
		Price:          usd(amount),
		PaymentModel:   tab.PaymentModelPayMerchantLater,
		SalesModel:     tab.SalesModelTimePass,
		Extension:      tab.ExtensionFor(tab.SalesModelTimePass, nil, valid),
	}
}

// Catalog returns the client configuration of a built-in site.
func Catalog(siteID string) (tab.ClientConfig, bool) {
	switch siteID {
	case SitePayPerGame:
		return tab.ClientConfig{
			SiteName: "Memory: pay per game",
			TestMode: true,
			Offerings: []tab.Offering{
				gameOffering("poc.ios.pay-per-game.5-games", "5 games", 200, "5"),
				gameOffering("poc.ios.pay-per-game.1-game", "1 game", 50, "1"),
				gameOffering("poc.ios.pay-per-game.2-games", "2 games", 100, "2"),
			},
		}, true
	case SitePayForAccess:
		offerings := []tab.Offering{
			timePassOffering("poc.ios.pay-for-access.30-seconds", "30 sec", 50, "30s"),
			timePassOffering("poc.ios.pay-for-access.1-minute", "1 min", 100, "1m"),
			timePassOffering("poc.ios.pay-for-access.2-minutes", "2 min", 150, "2m"),
		}
		ids := make([]string, 0, len(offerings))
		for _, o := range offerings {
			ids = append(ids, o.ID)
		}
		return tab.ClientConfig{
			SiteName:  "Pay for access",
			TestMode:  true,
			Offerings: offerings,
			ContentKeys: []tab.ContentKey{{
				Key:            "poc.ios.pay-for-access.article",
				ItemTemplateID: "poc.ios.pay-for-access",
				OfferingIDs:    ids,
			}},
		}, true
	default:
		return tab.ClientConfig{}, false
	}
}

// SiteIDs lists the built-in sites.
func SiteIDs() []string {
	ids := []string{SitePayPerGame, SitePayForAccess}
	sort.Strings(ids)
	return ids
}
