package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveImport(t *testing.T) {
	before := testutil.ToFloat64(importJobs.WithLabelValues("done"))
	ObserveImport("done", 2*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(importJobs.WithLabelValues("done")))
}

func TestAddAssemblies_IgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(assembliesApplied.WithLabelValues("new"))
	AddAssemblies("new", 0)
	AddAssemblies("new", -3)
	assert.Equal(t, before, testutil.ToFloat64(assembliesApplied.WithLabelValues("new")))

	AddAssemblies("new", 5)
	assert.Equal(t, before+5, testutil.ToFloat64(assembliesApplied.WithLabelValues("new")))
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(queueDepth))
}
