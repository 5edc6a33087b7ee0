package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordFetched("regulatory", 7)
	r.RecordSkipped("regulatory", "unresolved", 2)
	r.RecordUpserted("regulatory", 4, 1)
	r.RecordPrediction("hit")
	r.RecordPrediction("hit")
	r.RecordStaleness("filings", 3600)

	assert.Equal(t, 7.0, testutil.ToFloat64(r.fetched.WithLabelValues("regulatory")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.skipped.WithLabelValues("regulatory", "unresolved")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.upserted.WithLabelValues("regulatory", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.upserted.WithLabelValues("regulatory", "duplicate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.predictions.WithLabelValues("hit")))
	assert.Equal(t, 3600.0, testutil.ToFloat64(r.staleness.WithLabelValues("filings")))
}
