package stats

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ifebuche/twifesh/internal/records"
	"github.com/ifebuche/twifesh/internal/session"
)

// The collector must satisfy the session's observer contract.
var _ session.Observer = (*Collector)(nil)

func TestCollector_CountsObservations(t *testing.T) {
	c := New()

	c.Delivered(records.Record{TweetID: "1"})
	c.Delivered(records.Record{TweetID: "2"})
	c.Duplicate("2")
	c.Reconnect("disconnect", 2*time.Second)
	c.Reconnect("disconnect", 4*time.Second)
	c.Reconnect("replay", 30*time.Second)
	c.RateLimited(15 * time.Minute)
	c.EnrichFailed("3", "404")

	if got := promtest.ToFloat64(c.delivered); got != 2 {
		t.Errorf("expected 2 delivered, got %v", got)
	}
	if got := promtest.ToFloat64(c.duplicates); got != 1 {
		t.Errorf("expected 1 duplicate, got %v", got)
	}
	if got := promtest.ToFloat64(c.reconnects.WithLabelValues("disconnect")); got != 2 {
		t.Errorf("expected 2 disconnect reconnects, got %v", got)
	}
	if got := promtest.ToFloat64(c.reconnects.WithLabelValues("replay")); got != 1 {
		t.Errorf("expected 1 replay reconnect, got %v", got)
	}
	if got := promtest.ToFloat64(c.rateLimits); got != 1 {
		t.Errorf("expected 1 rate limit, got %v", got)
	}
	if got := promtest.ToFloat64(c.enrichFailures); got != 1 {
		t.Errorf("expected 1 enrich failure, got %v", got)
	}
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	c := New()
	c.Delivered(records.Record{TweetID: "1"})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "twifesh_records_delivered_total 1") {
		t.Errorf("expected delivered counter in exposition, got:\n%s", body)
	}
}
