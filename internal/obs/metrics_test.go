package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/products/":                "/products/",
		"/products/42":              "/products/:id",
		"/orders/3/status":          "/orders/:id/status",
		"/orders/3/status?new=x":    "/orders/:id/status",
		"/orders/my/sales/":         "/orders/my/sales/",
		"/users/me/get":             "/users/me/get",
		"/products/abc":             "/products/abc",
		"/products/?category=books": "/products/",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentTransportCountsResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	before := testutil.ToFloat64(clientRequestsTotal.WithLabelValues(http.MethodGet, "/orders/:id", "418"))

	client := &http.Client{Transport: InstrumentTransport(srv.Client().Transport)}
	resp, err := client.Get(srv.URL + "/orders/9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	after := testutil.ToFloat64(clientRequestsTotal.WithLabelValues(http.MethodGet, "/orders/:id", "418"))
	if after != before+1 {
		t.Fatalf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}
