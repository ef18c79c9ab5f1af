package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const maxPageBytes = 2 << 20

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// junk addresses that show up in page assets and templates
var (
	junkSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".js", ".css"}
	junkDomains  = map[string]bool{
		"example.com":         true,
		"domain.com":          true,
		"email.com":           true,
		"sentry.io":           true,
		"wixpress.com":        true,
		"sentry.wixpress.com": true,
	}
)

// EmailExtractor fetches a website's landing page and collects the email
// addresses it publishes.
type EmailExtractor struct {
	client *http.Client
}

func NewEmailExtractor(client *http.Client) *EmailExtractor {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &EmailExtractor{client: client}
}

// FindEmails returns the unique addresses found in mailto links and page
// text, in document order.
func (x *EmailExtractor) FindEmails(ctx context.Context, website string) ([]string, error) {
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, website, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; geosweep/0.1)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", website, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetching %s: status %d", website, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", website, err)
	}
	return ExtractEmails(doc), nil
}

// ExtractEmails collects addresses from a parsed document.
func ExtractEmails(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		addr = strings.ToLower(strings.Trim(addr, " .,;:<>()[]\"'"))
		if addr == "" || seen[addr] || isJunkEmail(addr) {
			return
		}
		if !emailPattern.MatchString(addr) {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}

	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		add(addr)
	})

	doc.Find("script, style, noscript").Remove()
	for _, m := range emailPattern.FindAllString(doc.Text(), -1) {
		add(m)
	}
	return out
}

func isJunkEmail(addr string) bool {
	for _, suf := range junkSuffixes {
		if strings.HasSuffix(addr, suf) {
			return true
		}
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return true
	}
	domain := addr[at+1:]
	return junkDomains[domain] || strings.HasSuffix(domain, ".wixpress.com")
}
