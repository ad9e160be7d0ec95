package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fluxquery/internal/results"
)

func TestMetrics_ObservesStream(t *testing.T) {
	m := New()
	d := results.NewStatic([]int{1, 2, 3}, results.Metadata{TotalRows: results.UnknownTotal})
	s := results.New[int](d, results.Options[int]{Observer: m})

	if _, err := s.All(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish")
	}
	// The terminal report runs just after Done is closed.
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.Outcomes.WithLabelValues("completed")) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got := testutil.ToFloat64(m.Submissions); got != 1 {
		t.Errorf("submissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RowsDelivered); got != 3 {
		t.Errorf("rows = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Outcomes.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Submitted(10)
	m.Finished(results.Cancelled, 4, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"fluxquery_stream_submissions_total 1",
		`fluxquery_stream_finished_total{state="cancelled"} 1`,
		"fluxquery_stream_duration_seconds_count",
		"fluxquery_stream_rows_per_query_sum 4",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
