package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if httpRequestsTotal == nil || activeJobs == nil || jobsTotal == nil ||
		templateMutationsTotal == nil || serviceStartsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestActiveJobsGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeJobs)
	IncActiveJobs()
	IncActiveJobs()
	DecActiveJobs()
	if got := testutil.ToFloat64(activeJobs); got != before+1 {
		t.Fatalf("expected gauge %f, got %f", before+1, got)
	}
	DecActiveJobs()
}

func TestObserveJob(t *testing.T) {
	Init()
	before := testutil.ToFloat64(jobsTotal.WithLabelValues("canceled"))
	ObserveJob("canceled", 20*time.Millisecond)
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("canceled")); got != before+1 {
		t.Fatalf("expected %f canceled jobs, got %f", before+1, got)
	}
}

func TestObserveTemplateMutationResultLabel(t *testing.T) {
	Init()
	okBefore := testutil.ToFloat64(templateMutationsTotal.WithLabelValues("add", "ok"))
	errBefore := testutil.ToFloat64(templateMutationsTotal.WithLabelValues("add", "error"))

	ObserveTemplateMutation("add", nil)
	ObserveTemplateMutation("add", errors.New("disk full"))

	if got := testutil.ToFloat64(templateMutationsTotal.WithLabelValues("add", "ok")); got != okBefore+1 {
		t.Fatalf("expected ok count %f, got %f", okBefore+1, got)
	}
	if got := testutil.ToFloat64(templateMutationsTotal.WithLabelValues("add", "error")); got != errBefore+1 {
		t.Fatalf("expected error count %f, got %f", errBefore+1, got)
	}
}

func TestObserveServiceStart(t *testing.T) {
	Init()
	ObserveServiceStart("template-registry", errors.New("boom"))
	if got := testutil.ToFloat64(serviceStartsTotal.WithLabelValues("template-registry", "error")); got < 1 {
		t.Fatalf("expected failed start to be counted, got %f", got)
	}
	ObserveBootstrap(5 * time.Millisecond)
	if testutil.CollectAndCount(bootstrapDurationSeconds) == 0 {
		t.Fatal("expected bootstrap histogram to be collected")
	}
}

func TestObserveRateLimited(t *testing.T) {
	Init()
	before := testutil.ToFloat64(rateLimitedTotal)
	ObserveRateLimited()
	if got := testutil.ToFloat64(rateLimitedTotal); got != before+1 {
		t.Fatalf("expected %f rejections, got %f", before+1, got)
	}
}
