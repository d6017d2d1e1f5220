package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, fetchAttemptsTotal)
	require.NotNil(t, crawlsTotal)
	require.NotNil(t, eventsConsumedTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveCrawlCountsPosts(t *testing.T) {
	Init()
	before := testutil.ToFloat64(postsIngestedTotal.WithLabelValues("metrics-test"))
	crawlsBefore := testutil.ToFloat64(crawlsTotal.WithLabelValues("ok"))

	ObserveCrawl("metrics-test", "ok", 3)
	ObserveCrawl("metrics-test", "ok", 0)

	require.InDelta(t, before+3, testutil.ToFloat64(postsIngestedTotal.WithLabelValues("metrics-test")), 0.001)
	require.InDelta(t, crawlsBefore+2, testutil.ToFloat64(crawlsTotal.WithLabelValues("ok")), 0.001)
}

func TestObserveEvents(t *testing.T) {
	Init()
	pub := testutil.ToFloat64(eventsPublishedTotal.WithLabelValues("ad", "ok"))
	con := testutil.ToFloat64(eventsConsumedTotal.WithLabelValues("dropped"))

	ObserveEventPublished("ad", "ok")
	ObserveEventConsumed("dropped")
	ObserveBackoff(time.Minute)

	require.InDelta(t, pub+1, testutil.ToFloat64(eventsPublishedTotal.WithLabelValues("ad", "ok")), 0.001)
	require.InDelta(t, con+1, testutil.ToFloat64(eventsConsumedTotal.WithLabelValues("dropped")), 0.001)
	require.Positive(t, testutil.CollectAndCount(fetchBackoffSeconds))
}

func TestObservePostSkipped(t *testing.T) {
	Init()
	before := testutil.ToFloat64(postsSkippedTotal.WithLabelValues("metrics-test"))

	ObservePostSkipped("metrics-test")

	require.InDelta(t, before+1, testutil.ToFloat64(postsSkippedTotal.WithLabelValues("metrics-test")), 0.001)
}
