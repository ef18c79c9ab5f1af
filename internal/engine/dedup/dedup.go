// Package dedup merges place lists gathered from overlapping searches.
package dedup

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/rendis/geosweep/internal/model"
)

// Merge returns places unique by ID, first occurrence wins. Places without
// an ID are dropped. The input is not modified.
func Merge(places []model.RawPlace) []model.RawPlace {
	seen := make(map[string]struct{}, len(places))
	out := make([]model.RawPlace, 0, len(places))
	for _, p := range places {
		if p.ID == "" {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Keys selects the secondary keys MergeEnriched matches on in addition to
// the place ID.
type Keys struct {
	Phone  bool
	Domain bool
}

// MergeEnriched dedupes enriched places by ID and, when enabled, by
// normalized phone number and website domain. First occurrence wins.
func MergeEnriched(places []model.EnrichedPlace, keys Keys) []model.EnrichedPlace {
	seen := make(map[string]struct{}, len(places)*2)
	out := make([]model.EnrichedPlace, 0, len(places))

	for _, p := range places {
		var ks []string
		if p.ID != "" {
			ks = append(ks, "id:"+p.ID)
		}
		if keys.Phone {
			if ph := NormalizePhone(p.Phone); ph != "" {
				ks = append(ks, "phone:"+ph)
			}
		}
		if keys.Domain {
			if d := NormalizeDomain(p.Website); d != "" {
				ks = append(ks, "domain:"+d)
			}
		}
		if len(ks) == 0 {
			continue
		}

		dup := false
		for _, k := range ks {
			if _, ok := seen[k]; ok {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		for _, k := range ks {
			seen[k] = struct{}{}
		}
		out = append(out, p)
	}
	return out
}

// NormalizePhone keeps digits only and drops a leading US country code.
// Numbers shorter than seven digits normalize to "".
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < 7 {
		return ""
	}
	return digits
}

// sharedHosts serve many unrelated businesses, so their domain says nothing
// about identity.
var sharedHosts = map[string]bool{
	"facebook.com":     true,
	"instagram.com":    true,
	"google.com":       true,
	"sites.google.com": true,
	"business.site":    true,
	"yelp.com":         true,
	"linktr.ee":        true,
	"wixsite.com":      true,
	"godaddysites.com": true,
}

// NormalizeDomain lowercases the host of a website URL and strips "www.".
// Shared hosting and social domains normalize to "".
func NormalizeDomain(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "http://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" || sharedHosts[host] {
		return ""
	}
	for shared := range sharedHosts {
		if strings.HasSuffix(host, "."+shared) {
			return ""
		}
	}
	return host
}
