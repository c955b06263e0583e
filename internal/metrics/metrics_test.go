package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOutcome(t *testing.T) {
	before := testutil.ToFloat64(FileOutcomes.WithLabelValues("code-produced"))
	RecordOutcome("code-produced", 2)
	RecordOutcome("code-produced", 0)
	assert.Equal(t, before+2, testutil.ToFloat64(FileOutcomes.WithLabelValues("code-produced")))
}

func TestRecordCache(t *testing.T) {
	hits := testutil.ToFloat64(CacheRequests.WithLabelValues("hit"))
	misses := testutil.ToFloat64(CacheRequests.WithLabelValues("miss"))
	errs := testutil.ToFloat64(CacheRequests.WithLabelValues("error"))

	RecordCache(true)
	RecordCache(false)
	RecordCache(false)
	RecordCacheError()

	assert.Equal(t, hits+1, testutil.ToFloat64(CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(CacheRequests.WithLabelValues("miss")))
	assert.Equal(t, errs+1, testutil.ToFloat64(CacheRequests.WithLabelValues("error")))
}

func TestRecordRetryAndTask(t *testing.T) {
	before := testutil.ToFloat64(Retries.WithLabelValues("analysis"))
	RecordRetry("analysis")
	assert.Equal(t, before+1, testutil.ToFloat64(Retries.WithLabelValues("analysis")))

	tasks := testutil.ToFloat64(TasksTotal.WithLabelValues("success"))
	RecordTask("success")
	assert.Equal(t, tasks+1, testutil.ToFloat64(TasksTotal.WithLabelValues("success")))
}

func TestObservePhase(t *testing.T) {
	ObservePhase("planning", time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(PhaseDuration, "storyforge_phase_duration_seconds"), 1)
}
