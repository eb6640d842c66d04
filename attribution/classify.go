// Package attribution classifies inbound visits into traffic-source labels
// from the document referrer, UTM parameters and ad-platform click IDs.
package attribution

import (
	"net/url"
	"strings"
)

// Source is a traffic-source label. Known labels are enumerated below, but a
// visit carrying an explicit utm_source yields that value verbatim
// (lowercased), so arbitrary labels are possible.
type Source string

const (
	SourceDirect   Source = "direct"
	SourceReferral Source = "referral"
	SourceUnknown  Source = "unknown"
	SourceGoogle   Source = "google"
	SourceFacebook Source = "facebook"
)

// Query parameters consumed from the landing URL.
const (
	ParamUTMSource   = "utm_source"
	ParamUTMMedium   = "utm_medium"
	ParamUTMCampaign = "utm_campaign"
	ParamUTMTerm     = "utm_term"
	ParamUTMContent  = "utm_content"
	ParamGCLID       = "gclid"
	ParamFBCLID      = "fbclid"
)

var socialPlatforms = map[string]Source{
	"instagram.com": "instagram",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"linkedin.com":  "linkedin",
	"pinterest.com": "pinterest",
	"tiktok.com":    "tiktok",
	"youtube.com":   "youtube",
	"reddit.com":    "reddit",
	"snapchat.com":  "snapchat",
	"whatsapp.com":  "whatsapp",
	"telegram.org":  "telegram",
}

var searchEngines = map[string]Source{
	"bing.com":       "bing",
	"yahoo.com":      "yahoo",
	"duckduckgo.com": "duckduckgo",
	"baidu.com":      "baidu",
}

// Classify determines the traffic source of a visit. It is pure and
// deterministic: no DOM, storage or network access happens here, the caller
// supplies the raw referrer string and the landing URL's query parameters.
//
// Rules are ordered, first match wins:
//  1. no referrer and no utm_source: direct
//  2. utm_source present: its lowercased value, regardless of referrer
//  3. ad click IDs or platform referrer: gclid/google.com -> google,
//     fbclid/facebook.com -> facebook
//  4. known social platform referrer
//  5. known search engine referrer
//  6. any other referrer: referral
//  7. otherwise: unknown
func Classify(referrer string, params url.Values) Source {
	utmSource := params.Get(ParamUTMSource)

	if referrer == "" && utmSource == "" {
		return SourceDirect
	}

	if utmSource != "" {
		return Source(strings.ToLower(utmSource))
	}

	host := referrerHost(referrer)

	if params.Get(ParamGCLID) != "" || hostMatches(host, "google.com") {
		return SourceGoogle
	}
	if params.Get(ParamFBCLID) != "" || hostMatches(host, "facebook.com") {
		return SourceFacebook
	}

	if referrer != "" {
		for domain, source := range socialPlatforms {
			if hostMatches(host, domain) {
				return source
			}
		}
		for domain, source := range searchEngines {
			if hostMatches(host, domain) {
				return source
			}
		}
		return SourceReferral
	}

	return SourceUnknown
}

// referrerHost extracts the lowercased hostname from a referrer URL. A
// referrer that fails to parse as a URL is treated as a bare hostname.
func referrerHost(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(strings.TrimSpace(referrer))
	}
	return strings.ToLower(u.Hostname())
}

// hostMatches reports whether host is domain itself or a subdomain of it.
func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
