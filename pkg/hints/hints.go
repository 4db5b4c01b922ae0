// Package hints implements the queue's auxiliary side-tables: a set of
// pinned seed URLs and a per-domain login credential store. Neither
// affects selection ordering; both are read by external middleware.
package hints

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/ddfrontier/pkg/domainkey"
	"github.com/cuemby/ddfrontier/pkg/store"
)

// Credentials is a (login, password) pair recorded for a URL's registered
// domain.
type Credentials struct {
	URL      string
	Login    string
	Password string
}

// Tables is the side-table surface: hint URLs and login credentials,
// addressed under the same key prefix as the rest of the queue.
type Tables struct {
	gw     store.Gateway
	prefix string
}

// New builds a Tables bound to the given gateway and queue key prefix.
func New(gw store.Gateway, prefix string) *Tables {
	return &Tables{gw: gw, prefix: prefix}
}

func hintsKey(prefix string) string { return prefix + ":hints" }

func credentialsKey(prefix, url string) string {
	return prefix + ":credentials:" + domainkey.URLDomain(url)
}

// HintsKey returns the pinned-hint-URL set key for prefix.
func HintsKey(prefix string) string { return hintsKey(prefix) }

// CredentialsKeyPrefix returns the key prefix under which per-domain
// credential entries are stored, for callers that need to enumerate them.
func CredentialsKeyPrefix(prefix string) string { return prefix + ":credentials:" }

// AddHintURL pins url as a seed that external middleware should treat as
// always-relevant, regardless of selection.
func (t *Tables) AddHintURL(ctx context.Context, url string) error {
	if _, err := t.gw.SAdd(ctx, hintsKey(t.prefix), url); err != nil {
		return fmt.Errorf("hints: add hint url: %w", err)
	}
	return nil
}

// RemoveHintURL unpins url.
func (t *Tables) RemoveHintURL(ctx context.Context, url string) error {
	if _, err := t.gw.SRem(ctx, hintsKey(t.prefix), url); err != nil {
		return fmt.Errorf("hints: remove hint url: %w", err)
	}
	return nil
}

// HintURLs returns every currently pinned URL.
func (t *Tables) HintURLs(ctx context.Context) ([]string, error) {
	urls, err := t.gw.SMembers(ctx, hintsKey(t.prefix))
	if err != nil {
		return nil, fmt.Errorf("hints: list hint urls: %w", err)
	}
	return urls, nil
}

// AddLoginCredentials records login credentials for url's registered
// domain. A later GetLoginCredentials for any URL on the same domain
// returns them.
func (t *Tables) AddLoginCredentials(ctx context.Context, url, login, password string) error {
	value := login + "\n" + password
	if err := t.gw.SetWithExpiry(ctx, credentialsKey(t.prefix, url), value, 0); err != nil {
		return fmt.Errorf("hints: add login credentials: %w", err)
	}
	return nil
}

// GetLoginCredentials returns the credentials recorded for url's domain,
// if any.
func (t *Tables) GetLoginCredentials(ctx context.Context, url string) (Credentials, bool, error) {
	raw, ok, err := t.gw.Get(ctx, credentialsKey(t.prefix, url))
	if err != nil {
		return Credentials{}, false, fmt.Errorf("hints: get login credentials: %w", err)
	}
	if !ok {
		return Credentials{}, false, nil
	}
	login, password, found := strings.Cut(raw, "\n")
	if !found {
		return Credentials{}, false, fmt.Errorf("hints: malformed credentials value for %s", url)
	}
	return Credentials{URL: url, Login: login, Password: password}, true, nil
}
