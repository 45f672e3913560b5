package scheduler

import (
	"testing"
	"time"

	"github.com/wisbric/fleethub/internal/db"
)

func f(v float64) *float64 { return &v }

func TestAggregate(t *testing.T) {
	bucket := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	samples := []db.MetricSample{
		{CPUPercent: f(10), MemoryPercent: f(40), DiskPercent: f(70)},
		{CPUPercent: f(30), MemoryPercent: f(60), DiskPercent: f(70)},
		{CPUPercent: f(20), MemoryPercent: f(50), DiskPercent: f(70)},
	}

	agg := aggregate("srv-1", bucket, samples)

	if agg.ServerID != "srv-1" || !agg.BucketStart.Equal(bucket) {
		t.Fatalf("unexpected identity fields: %+v", agg)
	}
	if agg.CPUAvg != 20 || agg.CPUMin != 10 || agg.CPUMax != 30 {
		t.Errorf("cpu aggregate = %+v, want avg=20 min=10 max=30", agg)
	}
	if agg.MemoryAvg != 50 || agg.MemoryMin != 40 || agg.MemoryMax != 60 {
		t.Errorf("memory aggregate = %+v, want avg=50 min=40 max=60", agg)
	}
	if agg.DiskAvg != 70 || agg.DiskMin != 70 || agg.DiskMax != 70 {
		t.Errorf("disk aggregate = %+v, want avg=min=max=70", agg)
	}
}

func TestAggregateSkipsNilSamples(t *testing.T) {
	bucket := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	samples := []db.MetricSample{
		{CPUPercent: f(10)},
		{CPUPercent: nil},
		{CPUPercent: f(30)},
	}

	agg := aggregate("srv-1", bucket, samples)
	if agg.CPUAvg != 20 || agg.CPUMin != 10 || agg.CPUMax != 30 {
		t.Errorf("cpu aggregate with a nil sample = %+v, want avg=20 min=10 max=30", agg)
	}
	if agg.MemoryAvg != 0 || agg.MemoryMin != 0 || agg.MemoryMax != 0 {
		t.Errorf("memory aggregate with no samples = %+v, want all zero", agg)
	}
}

func TestMinMaxF(t *testing.T) {
	if minF(3, 5) != 3 || minF(5, 3) != 3 {
		t.Error("minF incorrect")
	}
	if maxF(3, 5) != 5 || maxF(5, 3) != 5 {
		t.Error("maxF incorrect")
	}
}
