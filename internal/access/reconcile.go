// Package access reconciles the user's access grants across a set of
// content keys.
package access

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcourtman/supertab-client/pkg/tab"
)

// Checker checks a single content key or offering id.
type Checker interface {
	CheckAccess(ctx context.Context, key string) (tab.AccessGrant, error)
}

// Reconcile checks every key concurrently and returns the furthest validTo
// among granted results. It returns nil when nothing is granted. The first
// failed check cancels the others and fails the whole reconciliation.
func Reconcile(ctx context.Context, checker Checker, keys []string) (*time.Time, error) {
	grants, err := CheckAll(ctx, checker, keys)
	if err != nil {
		return nil, err
	}
	return LatestValidTo(grants), nil
}

// CheckAll runs one check per key and returns the grants in key order.
func CheckAll(ctx context.Context, checker Checker, keys []string) ([]tab.AccessGrant, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	grants := make([]tab.AccessGrant, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		g.Go(func() error {
			grant, err := checker.CheckAccess(gctx, key)
			if err != nil {
				return fmt.Errorf("check access %q: %w", key, err)
			}
			grants[i] = grant
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return grants, nil
}

// LatestValidTo reduces grants to the furthest expiry among granted ones.
// A granted grant without an expiry yields tab.NoExpiry.
func LatestValidTo(grants []tab.AccessGrant) *time.Time {
	var latest *time.Time
	for _, g := range grants {
		if !g.Granted {
			continue
		}
		if v := g.Expiry(); latest == nil || v.After(*latest) {
			latest = &v
		}
	}
	return latest
}
