package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcourtman/supertab-client/internal/access"
	"github.com/rcourtman/supertab-client/pkg/tab"
)

var offeringsCmd = &cobra.Command{
	Use:   "offerings",
	Short: "List the offerings of the configured site",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		a := newApp(cfg, cmd.OutOrStdout(), true)
		a.start(ctx)

		site, err := a.backend.FetchClientConfig(ctx, cfg.SiteID)
		if err != nil {
			return fmt.Errorf("fetch offerings: %w", err)
		}
		out := cmd.OutOrStdout()
		name := site.SiteName
		if name == "" {
			name = cfg.SiteID
		}
		fmt.Fprintf(out, "%s\n", name)
		printOfferings(out, tab.SortByPrice(site.Offerings), nil)
		return nil
	},
}

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Check which content the signed-in user can access",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		a := newApp(cfg, cmd.OutOrStdout(), true)
		a.start(ctx)

		site, err := a.backend.FetchClientConfig(ctx, cfg.SiteID)
		if err != nil {
			return fmt.Errorf("fetch offerings: %w", err)
		}
		grants, err := access.CheckAll(ctx, a.backend, tab.AccessKeys(site.Offerings, site.ContentKeys))
		if err != nil {
			return fmt.Errorf("check access: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, g := range grants {
			fmt.Fprintf(out, "%-40s %s\n", g.ContentKey, describeGrant(g, time.Now()))
		}
		if validTo := access.LatestValidTo(grants); validTo != nil {
			fmt.Fprintf(out, "Access granted %s\n", accessUntil(*validTo, time.DateTime))
		} else {
			fmt.Fprintln(out, "No access")
		}
		return nil
	},
}

var tabCmd = &cobra.Command{
	Use:   "tab",
	Short: "Show the active Tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		a := newApp(cfg, cmd.OutOrStdout(), true)
		a.start(ctx)

		t, err := a.backend.FetchActiveTab(ctx)
		if err != nil {
			return fmt.Errorf("fetch tab: %w", err)
		}
		printTab(cmd.OutOrStdout(), t)
		return nil
	},
}

// accessUntil describes an access expiry, treating tab.NoExpiry as open-ended.
func accessUntil(validTo time.Time, layout string) string {
	if !validTo.Before(tab.NoExpiry) {
		return "with no expiry"
	}
	return "until " + validTo.Local().Format(layout)
}

func describeGrant(g tab.AccessGrant, now time.Time) string {
	switch {
	case !g.Granted:
		return "no access"
	case g.ValidTo == nil:
		return "granted"
	case g.ActiveAt(now):
		return fmt.Sprintf("granted, %s left", g.ValidTo.Sub(now).Round(time.Second))
	default:
		return "expired"
	}
}

// printOfferings lists offerings with their 1-based index. The selected
// offering is marked.
func printOfferings(out io.Writer, offerings []tab.Offering, selected *tab.Offering) {
	for i, o := range offerings {
		marker := " "
		if selected != nil && selected.Equal(o) {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %d. %-24s %8s  %s\n", marker, i+1, o.Summary, o.Price, describeOffering(o))
	}
}

func describeOffering(o tab.Offering) string {
	if n, ok := o.GameCredits(); ok {
		if n == 1 {
			return "1 game"
		}
		return fmt.Sprintf("%d games", n)
	}
	if d, ok := o.ValidDuration(); ok {
		return fmt.Sprintf("access for %s", tab.FormatTimedelta(d))
	}
	return o.ID
}

func printTab(out io.Writer, t *tab.Tab) {
	if t == nil {
		fmt.Fprintln(out, "No open Tab")
		return
	}
	fmt.Fprintf(out, "Tab %s (%s): %s of %s\n", t.ID, t.Status,
		tab.FormatAmount(t.Total, t.Currency), tab.FormatAmount(t.Limit, t.Currency))
	if t.Status != tab.StatusClosed {
		fmt.Fprintf(out, "%s left before payment is due\n", tab.FormatAmount(t.Remaining(), t.Currency))
	}
	for _, p := range t.Purchases {
		fmt.Fprintf(out, "  %s  %-24s %8s\n", p.PurchaseDate.Local().Format(time.DateTime), p.Summary, p.Price)
	}
}
