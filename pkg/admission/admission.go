// Package admission implements the cap on distinct domains admitted to a
// queue and the relevant-domain restriction that freezes the domain set
// once a crawl has found enough domains worth following.
package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/ddfrontier/pkg/store"
)

// Controller enforces spec.md §4.7's domain caps. Restriction state is
// persisted in the store, not in process memory, so every worker in the
// fleet observes the same admission decisions.
type Controller struct {
	gw store.Gateway

	prefix             string
	maxDomains         int
	maxRelevantDomains int
	restrictDelay      time.Duration
	now                func() time.Time
}

// Config configures a Controller.
type Config struct {
	Prefix             string
	MaxDomains         int
	MaxRelevantDomains int
	RestrictDelay      time.Duration
}

func relevantDomainsKey(prefix string) string { return prefix + ":relevant-domains" }
func relevantSinceKey(prefix string) string   { return prefix + ":relevant-since" }
func restrictedKey(prefix string) string      { return prefix + ":restricted" }

// RelevantDomainsKey returns the relevant-domain set key for prefix.
func RelevantDomainsKey(prefix string) string { return relevantDomainsKey(prefix) }

// RelevantSinceKey returns the first-relevant-domain timestamp key for prefix.
func RelevantSinceKey(prefix string) string { return relevantSinceKey(prefix) }

// RestrictedKey returns the restricted-state flag key for prefix.
func RestrictedKey(prefix string) string { return restrictedKey(prefix) }

// New builds a Controller. A zero MaxDomains or MaxRelevantDomains
// disables the corresponding cap.
func New(gw store.Gateway, cfg Config) *Controller {
	return &Controller{
		gw:                 gw,
		prefix:             cfg.Prefix,
		maxDomains:         cfg.MaxDomains,
		maxRelevantDomains: cfg.MaxRelevantDomains,
		restrictDelay:      cfg.RestrictDelay,
		now:                time.Now,
	}
}

// AdmitsNewDomain reports whether a new domain may still be added to the
// queues index, given its current cardinality.
func (c *Controller) AdmitsNewDomain(existingDomainCount int64) bool {
	if c.maxDomains <= 0 {
		return true
	}
	return existingDomainCount < int64(c.maxDomains)
}

// IsRestricted reports whether the fleet has already entered the
// restricted state.
func (c *Controller) IsRestricted(ctx context.Context) (bool, error) {
	_, ok, err := c.gw.Get(ctx, restrictedKey(c.prefix))
	if err != nil {
		return false, fmt.Errorf("admission: check restricted: %w", err)
	}
	return ok, nil
}

// MarkRelevant records domain in the relevant-domain set, and stamps the
// time of the first-ever relevant domain if this is it. Disabled
// (no-op) when MaxRelevantDomains is zero.
func (c *Controller) MarkRelevant(ctx context.Context, domain string) error {
	if c.maxRelevantDomains <= 0 {
		return nil
	}
	added, err := c.gw.SAdd(ctx, relevantDomainsKey(c.prefix), domain)
	if err != nil {
		return fmt.Errorf("admission: mark relevant: %w", err)
	}
	if !added {
		return nil
	}
	_, ok, err := c.gw.Get(ctx, relevantSinceKey(c.prefix))
	if err != nil {
		return fmt.Errorf("admission: read relevant-since: %w", err)
	}
	if ok {
		return nil
	}
	if err := c.gw.SetWithExpiry(ctx, relevantSinceKey(c.prefix), strconv.FormatInt(c.now().Unix(), 10), 0); err != nil {
		return fmt.Errorf("admission: stamp relevant-since: %w", err)
	}
	return nil
}

// TryRestrictDomains is the idempotent check spec.md §4.7 calls for on
// every pop: if the relevant-domain set has reached its cap and
// restrict-delay has elapsed since the first relevant domain was
// recorded, it flips the fleet into the restricted state and reports
// true. Safe to call unconditionally and repeatedly.
func (c *Controller) TryRestrictDomains(ctx context.Context) (bool, error) {
	if c.maxRelevantDomains <= 0 {
		return false, nil
	}
	restricted, err := c.IsRestricted(ctx)
	if err != nil {
		return false, err
	}
	if restricted {
		return true, nil
	}

	count, err := c.gw.SCard(ctx, relevantDomainsKey(c.prefix))
	if err != nil {
		return false, fmt.Errorf("admission: count relevant domains: %w", err)
	}
	if count < int64(c.maxRelevantDomains) {
		return false, nil
	}

	sinceStr, ok, err := c.gw.Get(ctx, relevantSinceKey(c.prefix))
	if err != nil {
		return false, fmt.Errorf("admission: read relevant-since: %w", err)
	}
	if !ok {
		return false, nil
	}
	sinceUnix, err := strconv.ParseInt(sinceStr, 10, 64)
	if err != nil {
		return false, fmt.Errorf("admission: parse relevant-since: %w", err)
	}
	if c.now().Sub(time.Unix(sinceUnix, 0)) < c.restrictDelay {
		return false, nil
	}

	if err := c.gw.SetWithExpiry(ctx, restrictedKey(c.prefix), "1", 0); err != nil {
		return false, fmt.Errorf("admission: set restricted: %w", err)
	}
	return true, nil
}
