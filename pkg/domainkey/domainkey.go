// Package domainkey extracts the registered domain (eTLD+1) from a crawl
// URL and derives the per-domain queue key used to bucket it in the store.
package domainkey

import (
	"net"
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// RegisteredDomain returns the effective top-level-domain-plus-one of a
// hostname, with a leading "www." stripped (e.g. "app.example.co.uk" ->
// "example.co.uk", "www.example.com" -> "example.com"). IP literals and
// hosts the public suffix lookup rejects (such as single-label hosts) are
// returned lowercased and unchanged.
func RegisteredDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.Domain(host)
	if err != nil || domain == "" {
		domain = host
	}
	// eTLD+1 extraction already folds any number of subdomain labels
	// (www, wwww, app, ...) into the registrable domain; this is a safety
	// net for hosts the suffix list did not recognize.
	return strings.TrimPrefix(domain, "www.")
}

// URLDomain extracts the registered domain from a full URL's host.
func URLDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return RegisteredDomain(u.Hostname())
}

// QueueKey derives the per-domain queue key under prefix for a given
// registered domain: "<prefix>:domain:<registered-domain>".
func QueueKey(prefix, registeredDomain string) string {
	return prefix + ":domain:" + registeredDomain
}

// URLQueueKey is the pure helper from the spec's external interface: the
// queue key a given URL would be bucketed under for prefix.
func URLQueueKey(prefix, rawURL string) string {
	return QueueKey(prefix, URLDomain(rawURL))
}

// QueueKeyDomain extracts the registered domain back out of a queue key
// produced by QueueKey, for the same prefix.
func QueueKeyDomain(prefix, queueKey string) string {
	marker := prefix + ":domain:"
	if !strings.HasPrefix(queueKey, marker) {
		return ""
	}
	return queueKey[len(marker):]
}
