package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSave_Labels(t *testing.T) {
	before := testutil.ToFloat64(SavesTotal.WithLabelValues("terminal", "error"))
	ObserveSave(true, errors.New("boom"))
	after := testutil.ToFloat64(SavesTotal.WithLabelValues("terminal", "error"))
	if after-before != 1 {
		t.Fatalf("expected terminal/error to grow by 1, got %v", after-before)
	}
}

func TestObserveGrant_Labels(t *testing.T) {
	before := testutil.ToFloat64(GrantsTotal.WithLabelValues("backfill", "ok"))
	ObserveGrant(true, nil)
	after := testutil.ToFloat64(GrantsTotal.WithLabelValues("backfill", "ok"))
	if after-before != 1 {
		t.Fatalf("expected backfill/ok to grow by 1, got %v", after-before)
	}
}

func TestObserveCache_Labels(t *testing.T) {
	before := testutil.ToFloat64(AggregateCacheTotal.WithLabelValues("subject", "hit"))
	ObserveCache("subject", true)
	after := testutil.ToFloat64(AggregateCacheTotal.WithLabelValues("subject", "hit"))
	if after-before != 1 {
		t.Fatalf("expected subject/hit to grow by 1, got %v", after-before)
	}
}
