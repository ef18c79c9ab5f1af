package places

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	utls "github.com/refraction-networking/utls"

	"github.com/rendis/geosweep/internal/model"
)

func pageJSON(prefix string, n int, token string) string {
	var items []string
	for i := 0; i < n; i++ {
		items = append(items, fmt.Sprintf(`{
			"place_id": "%s-%d", "name": "Biz %d", "vicinity": "%d Main St",
			"rating": 4.5, "user_ratings_total": %d, "business_status": "OPERATIONAL",
			"types": ["plumber"], "geometry": {"location": {"lat": 29.76, "lng": -95.36}}
		}`, prefix, i, i, i, 10+i))
	}
	tok := ""
	if token != "" {
		tok = fmt.Sprintf(`"next_page_token": %q,`, token)
	}
	return fmt.Sprintf(`{"status": "OK", %s "results": [%s]}`, tok, strings.Join(items, ","))
}

func newTestClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()
	opts.APIKey = "test-key"
	opts.BaseURL = srv.URL
	opts.HTTPClient = srv.Client()
	if opts.PageTokenDelay == 0 {
		opts.PageTokenDelay = time.Millisecond
	}
	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = time.Millisecond
	}
	c, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestNearbySearchPagination(t *testing.T) {
	var tok1Attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nearbysearch/json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("key") != "test-key" {
			t.Errorf("missing key")
		}
		switch q.Get("pagetoken") {
		case "":
			if q.Get("location") != "29.7604000,-95.3698000" || q.Get("radius") != "15000" || q.Get("keyword") != "plumber" {
				t.Errorf("query = %v", q)
			}
			w.Write([]byte(pageJSON("p1", 20, "tok1")))
		case "tok1":
			// first use of a fresh token is rejected
			if tok1Attempts.Add(1) == 1 {
				w.Write([]byte(`{"status": "INVALID_REQUEST", "results": []}`))
				return
			}
			w.Write([]byte(pageJSON("p2", 20, "tok2")))
		case "tok2":
			w.Write([]byte(pageJSON("p3", 20, "")))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	res, err := c.NearbySearch(context.Background(), orb.Point{-95.3698, 29.7604}, 15000, "plumber")
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Places) != ResultCap {
		t.Errorf("places = %d, want %d", len(res.Places), ResultCap)
	}
	if res.Requests != 4 {
		t.Errorf("requests = %d, want 4", res.Requests)
	}

	p := res.Places[0]
	if p.ID != "p1-0" || p.Vicinity != "0 Main St" || p.ReviewCount != 10 ||
		p.Status != model.StatusOperational || p.Rating == nil || *p.Rating != 4.5 ||
		p.Keyword != "plumber" || p.Lat() != 29.76 || p.Lng() != -95.36 {
		t.Errorf("place = %+v", p)
	}
	if res.Places[59].ID != "p3-19" {
		t.Errorf("last place = %s", res.Places[59].ID)
	}
}

func TestNearbySearchKeepsPagesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pagetoken") == "" {
			w.Write([]byte(pageJSON("p1", 20, "tok1")))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, Options{}).NearbySearch(context.Background(), orb.Point{-95, 29}, 15000, "hvac")
	if err == nil {
		t.Fatal("expected error from failing second page")
	}
	if len(res.Places) != 20 || res.Requests != 2 {
		t.Errorf("res = %d places, %d requests", len(res.Places), res.Requests)
	}
}

func TestNearbySearchZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, Options{}).NearbySearch(context.Background(), orb.Point{-100, 31}, 100000, "plumber")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Places) != 0 || res.Requests != 1 {
		t.Errorf("res = %+v", res)
	}
}

func TestNearbySearchMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "OK", "results": [{"place_id": "bare", "name": "Bare", "geometry": {"location": {"lat": 1, "lng": 2}}}]}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, Options{}).NearbySearch(context.Background(), orb.Point{2, 1}, 5000, "")
	if err != nil {
		t.Fatal(err)
	}
	p := res.Places[0]
	if p.Rating != nil || p.ReviewCount != 0 || p.Status != model.StatusUnknown {
		t.Errorf("place = %+v", p)
	}
}

func TestRateLimitRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.Write([]byte(`{"status": "OVER_QUERY_LIMIT", "results": []}`))
		default:
			w.Write([]byte(pageJSON("ok", 3, "")))
		}
	}))
	defer srv.Close()

	var throttled atomic.Int32
	c := newTestClient(t, srv, Options{OnRateLimit: func() { throttled.Add(1) }})
	res, err := c.NearbySearch(context.Background(), orb.Point{-95, 29}, 15000, "hvac")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Places) != 3 || res.Requests != 3 {
		t.Errorf("res = %d places, %d requests", len(res.Places), res.Requests)
	}
	if throttled.Load() != 2 {
		t.Errorf("rate limit callbacks = %d, want 2", throttled.Load())
	}
}

func TestRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "OVER_QUERY_LIMIT", "results": []}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{MaxRetries: -1})
	res, err := c.NearbySearch(context.Background(), orb.Point{-95, 29}, 15000, "hvac")
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rl.Status != "OVER_QUERY_LIMIT" || res.Requests != 1 {
		t.Errorf("rl = %+v, requests = %d", rl, res.Requests)
	}
}

func TestStatusErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"status": "REQUEST_DENIED", "error_message": "The provided API key is invalid."}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, Options{}).NearbySearch(context.Background(), orb.Point{-95, 29}, 15000, "hvac")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != "REQUEST_DENIED" {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if strings.Contains(err.Error(), "test-key") {
		t.Errorf("error leaks the key: %v", err)
	}
}

func TestTransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, srv, Options{})
	srv.Close()

	_, err := c.NearbySearch(context.Background(), orb.Point{-95, 29}, 15000, "hvac")
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if strings.Contains(err.Error(), "test-key") {
		t.Errorf("error leaks the key: %v", err)
	}
}

func TestNearbySearchCancelledDuringTokenWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pageJSON("p", 20, "tok")))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, srv, Options{PageTokenDelay: time.Hour})

	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		_, err = c.NearbySearch(ctx, orb.Point{-95, 29}, 15000, "hvac")
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/details/json" || q.Get("fields") != detailFields {
			t.Errorf("request = %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		if q.Get("place_id") == "gone" {
			w.Write([]byte(`{"status": "NOT_FOUND"}`))
			return
		}
		w.Write([]byte(`{"status": "OK", "result": {
			"formatted_phone_number": "(713) 555-0100",
			"international_phone_number": "+1 713-555-0100",
			"website": "https://example.com/",
			"formatted_address": "1 Main St, Houston, TX 77002, USA",
			"url": "https://maps.google.com/?cid=42"
		}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	d, err := c.Details(context.Background(), "ChIJ123")
	if err != nil {
		t.Fatal(err)
	}
	want := model.PlaceDetails{
		Phone:              "(713) 555-0100",
		InternationalPhone: "+1 713-555-0100",
		Website:            "https://example.com/",
		FormattedAddress:   "1 Main St, Houston, TX 77002, USA",
		MapsURL:            "https://maps.google.com/?cid=42",
	}
	if d != want {
		t.Errorf("details = %+v", d)
	}

	if _, err := c.Details(context.Background(), "gone"); err == nil {
		t.Error("expected error for NOT_FOUND")
	}
	if _, err := c.Details(context.Background(), ""); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestQPSLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{QPS: 20})
	if c.limiter == nil {
		t.Fatal("limiter not configured")
	}
	start := time.Now()
	for i := 0; i < 25; i++ {
		if _, err := c.NearbySearch(context.Background(), orb.Point{-95, 29}, 1000, ""); err != nil {
			t.Fatal(err)
		}
	}
	// burst of 20, then 5 more at 20/s
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("25 requests at 20 QPS took %s", elapsed)
	}
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(TransportOptions{})
	if c.Timeout != 15*time.Second {
		t.Errorf("default timeout = %s", c.Timeout)
	}

	c = NewHTTPClient(TransportOptions{Timeout: time.Second, ProxyURL: "http://proxy.local:8080", ChromeTLS: true})
	tr := c.Transport.(*http.Transport)
	if tr.Proxy == nil {
		t.Error("proxy not configured")
	}
	if tr.DialTLSContext != nil {
		t.Error("chrome dialer should be disabled behind a proxy")
	}

	c = NewHTTPClient(TransportOptions{ChromeTLS: true})
	if c.Transport.(*http.Transport).DialTLSContext == nil {
		t.Error("chrome dialer not installed")
	}
}

func TestChromeDialerHandshake(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Proto))
	}))
	defer srv.Close()

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialTLSContext: chromeDialer(&net.Dialer{Timeout: 5 * time.Second}, &utls.Config{RootCAs: roots}),
		},
	}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "HTTP/1.1" {
		t.Errorf("proto = %q, want HTTP/1.1", body)
	}
}

func TestChromeDialerRejectsUntrustedCert(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	dial := chromeDialer(&net.Dialer{Timeout: 5 * time.Second}, nil)
	conn, err := dial(context.Background(), "tcp", srv.Listener.Addr().String())
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail against a self-signed certificate")
	}
}

func TestChromeHelloSpecPinsHTTP1(t *testing.T) {
	spec, err := chromeHelloSpec()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			found = true
			if len(alpn.AlpnProtocols) != 1 || alpn.AlpnProtocols[0] != "http/1.1" {
				t.Errorf("alpn = %v", alpn.AlpnProtocols)
			}
		}
	}
	if !found {
		t.Error("chrome spec has no ALPN extension")
	}
}
