// internal/orchestrator/activation.go
package orchestrator

import (
	"regexp"
	"strings"
	"time"

	"corretor-hub/internal/models"
)

// Portal URL patterns for the real-estate portals leads paste links from.
var portalPatterns = map[string]*regexp.Regexp{
	"zonaprop":     regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?zonaprop\.com\.ar/[^\s)]+`),
	"argenprop":    regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?argenprop\.com/[^\s)]+`),
	"mercadolibre": regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:inmuebles\.)?mercadolibre\.com\.ar/[^\s)]+`),
	"properati":    regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?properati\.com\.ar/[^\s)]+`),
	"remax":        regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?remax\.com\.ar/[^\s)]+`),
}

// Listing-reference patterns per portal, applied to an extracted URL.
var listingRefPatterns = map[string]*regexp.Regexp{
	// Zonaprop slugs carry the ID between hyphens: .../depto-palermo-51234567-depa.html
	"zonaprop":     regexp.MustCompile(`-(\d+)(?:-|\.html)`),
	"argenprop":    regexp.MustCompile(`/(\d+)$`),
	"mercadolibre": regexp.MustCompile(`MLA-?(\d+)`),
	"properati":    regexp.MustCompile(`/(\d+)$`),
	"remax":        regexp.MustCompile(`listing/(\d+)`),
}

// PortalLink is a recognized listing URL found in a message.
type PortalLink struct {
	Portal string
	URL    string
}

// ExtractPortalLinks finds recognized portal URLs in a message.
func ExtractPortalLinks(message string) []PortalLink {
	var out []PortalLink
	for portal, pattern := range portalPatterns {
		for _, url := range pattern.FindAllString(message, -1) {
			if !strings.HasPrefix(strings.ToLower(url), "http") {
				url = "https://" + url
			}
			out = append(out, PortalLink{Portal: portal, URL: url})
		}
	}
	return out
}

// ExtractListingRef pulls a portal-qualified listing reference from a
// URL, e.g. "zonaprop_51234567". Empty when no pattern matches.
func ExtractListingRef(url string) string {
	lower := strings.ToLower(url)
	for portal, pattern := range listingRefPatterns {
		if !strings.Contains(lower, portal) && !(portal == "mercadolibre" && strings.Contains(lower, "mla")) {
			continue
		}
		if m := pattern.FindStringSubmatch(url); len(m) > 1 {
			return portal + "_" + m[1]
		}
	}
	return ""
}

// ActivationDecision records why automation did or did not engage. The
// decision is kept as the audit record of Ignored conversations.
type ActivationDecision struct {
	Activate      bool
	Reason        string
	IsNewContact  bool
	HasPortalLink bool
	PortalLinks   []PortalLink
}

// decideActivation evaluates the tenant's activation predicate against
// the first message of a would-be conversation. lastActivity is the
// lead's most recent prior conversation activity; zero means the contact
// was never seen.
func decideActivation(cfg models.TenantConfig, message string, lastActivity time.Time, now time.Time) ActivationDecision {
	links := ExtractPortalLinks(message)
	if len(cfg.AllowedPortals) > 0 {
		allowed := make(map[string]bool, len(cfg.AllowedPortals))
		for _, p := range cfg.AllowedPortals {
			allowed[p] = true
		}
		kept := links[:0]
		for _, l := range links {
			if allowed[l.Portal] {
				kept = append(kept, l)
			}
		}
		links = kept
	}
	hasLink := len(links) > 0

	newContactWindow := time.Duration(cfg.NewContactHours) * time.Hour
	isNew := lastActivity.IsZero() || now.Sub(lastActivity) > newContactWindow

	d := ActivationDecision{
		IsNewContact:  isNew,
		HasPortalLink: hasLink,
		PortalLinks:   links,
	}

	switch {
	case cfg.RequireNewContact && cfg.RequirePortalLink:
		d.Activate = isNew && hasLink
		if !isNew {
			d.Reason = "not_new_contact"
		} else if !hasLink {
			d.Reason = "no_portal_link"
		}
	case cfg.RequireNewContact:
		d.Activate = isNew
		if !isNew {
			d.Reason = "not_new_contact"
		}
	case cfg.RequirePortalLink:
		d.Activate = hasLink
		if !hasLink {
			d.Reason = "no_portal_link"
		}
	default:
		d.Activate = true
		d.Reason = "no_restrictions"
	}

	if d.Activate && d.Reason == "" {
		d.Reason = "criteria_met"
	}
	return d
}
