package stats

import (
	"math"
	"testing"
	"time"

	"seismicdash/event"
)

func TestUpdateIncrementsTotalAndTracksMax(t *testing.T) {
	mags := []float64{2.1, 4.8, 3.3, 6.2, 1.0}
	var agg Aggregate
	running := math.Inf(-1)
	for i, mag := range mags {
		prev := agg
		agg = Update(agg, event.Event{ID: "x", Mag: mag, Time: time.Unix(int64(i), 0)})
		running = math.Max(running, mag)
		if agg.Total != prev.Total+1 {
			t.Fatalf("step %d: total %d -> %d", i, prev.Total, agg.Total)
		}
		if agg.MaxMagnitude != running {
			t.Fatalf("step %d: expected max %.1f, got %.1f", i, running, agg.MaxMagnitude)
		}
		if agg.MaxMagnitude < prev.MaxMagnitude && i > 0 {
			t.Fatalf("step %d: max decreased", i)
		}
	}
}

func TestUpdateSeedsMaxFromFirstEvent(t *testing.T) {
	agg := Update(Aggregate{}, event.Event{Mag: -0.5})
	if agg.MaxMagnitude != -0.5 {
		t.Fatalf("expected first event to seed max, got %.2f", agg.MaxMagnitude)
	}
	agg = Update(agg, event.Event{Mag: -1.5})
	if agg.MaxMagnitude != -0.5 {
		t.Fatalf("expected max to stay -0.5, got %.2f", agg.MaxMagnitude)
	}
}

func TestUpdateLastEventTime(t *testing.T) {
	when := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	agg := Update(Aggregate{}, event.Event{Mag: 6.2, Region: "Aegean Sea", Time: when})
	if agg.LastEventTime != when.Local().Format(HumanTimeLayout) {
		t.Fatalf("unexpected last event time %q", agg.LastEventTime)
	}
	if !agg.LastEventAt.Equal(when) {
		t.Fatalf("unexpected last event at %s", agg.LastEventAt)
	}
	if agg.Total != 1 || agg.MaxMagnitude < 6.2 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
}

func TestHumanTimeZero(t *testing.T) {
	if got := HumanTime(time.Time{}); got != "" {
		t.Fatalf("expected empty string for zero time, got %q", got)
	}
}
