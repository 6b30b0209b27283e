package ddf_test

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/opnet-io/admitd/internal/clock"
	"github.com/opnet-io/admitd/internal/ddf"
)

func newTestFilter(duration time.Duration, clk clock.Service) *ddf.Filter {
	return ddf.New(clk, duration, ddf.WithEntryBytes(8))
}

// TestDDFBasic is scenario S5 from the spec: insert, observe duplicate,
// observe survival across one rotation, observe expiry after two.
func TestDDFBasic(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		clk := clock.NewReal()
		f := newTestFilter(1000*time.Millisecond, clk)
		defer f.StopDecaying()

		known, err := f.AddLong(42)
		if err != nil {
			t.Fatalf("AddLong: %v", err)
		}
		if known {
			t.Fatal("first add of 42 must report not-already-known")
		}

		known, err = f.AddLong(42)
		if err != nil {
			t.Fatalf("AddLong: %v", err)
		}
		if !known {
			t.Fatal("second add of 42 must report already-known")
		}

		time.Sleep(1001 * time.Millisecond)
		synctest.Wait()

		isKnown, err := f.IsKnownLong(42)
		if err != nil {
			t.Fatalf("IsKnownLong: %v", err)
		}
		if !isKnown {
			t.Fatal("42 must still be known one rotation after insert")
		}

		time.Sleep(1001 * time.Millisecond)
		synctest.Wait()

		isKnown, err = f.IsKnownLong(42)
		if err != nil {
			t.Fatalf("IsKnownLong: %v", err)
		}
		if isKnown {
			t.Fatal("42 must be forgotten after two rotations")
		}
	})
}

// TestDDFWindowEdge is scenario S6: survival exactly across a rotation
// boundary and expiry exactly two durations out.
func TestDDFWindowEdge(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		clk := clock.NewReal()
		duration := 1000 * time.Millisecond
		f := newTestFilter(duration, clk)
		defer f.StopDecaying()

		if _, err := f.AddLong(7); err != nil {
			t.Fatalf("AddLong: %v", err)
		}

		time.Sleep(duration - time.Millisecond)
		synctest.Wait()
		known, err := f.AddLong(7)
		if err != nil {
			t.Fatalf("AddLong: %v", err)
		}
		if !known {
			t.Fatal("7 must still be known just before rotation")
		}

		time.Sleep(2 * time.Millisecond)
		synctest.Wait()
		known, err = f.AddLong(7)
		if err != nil {
			t.Fatalf("AddLong: %v", err)
		}
		if !known {
			t.Fatal("7 must still be known just after rotation")
		}

		time.Sleep(duration)
		synctest.Wait()
		known, err = f.AddLong(7)
		if err != nil {
			t.Fatalf("AddLong: %v", err)
		}
		if known {
			t.Fatal("7 must be forgotten two full durations after insert")
		}
	})
}

func TestDDFRejectsWrongLength(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		clk := clock.NewReal()
		f := newTestFilter(time.Minute, clk)
		defer f.StopDecaying()

		_, err := f.Add([]byte{1, 2, 3})
		if err != ddf.ErrWrongEntryLength {
			t.Fatalf("expected ErrWrongEntryLength, got %v", err)
		}
	})
}

func TestDDFClearResetsState(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		clk := clock.NewReal()
		f := newTestFilter(time.Minute, clk)
		defer f.StopDecaying()

		if _, err := f.AddLong(99); err != nil {
			t.Fatalf("AddLong: %v", err)
		}
		f.Clear()

		known, err := f.IsKnownLong(99)
		if err != nil {
			t.Fatalf("IsKnownLong: %v", err)
		}
		if known {
			t.Fatal("Clear must forget all entries")
		}
		if f.CurrentDuplicateCount() != 0 {
			t.Fatal("Clear must reset the duplicate counter")
		}
	})
}

func TestDDFStopDecayingFreezesState(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		clk := clock.NewReal()
		f := newTestFilter(100*time.Millisecond, clk)

		if _, err := f.AddLong(5); err != nil {
			t.Fatalf("AddLong: %v", err)
		}
		f.StopDecaying()

		time.Sleep(time.Second)
		synctest.Wait()

		known, err := f.IsKnownLong(5)
		if err != nil {
			t.Fatalf("IsKnownLong: %v", err)
		}
		if !known {
			t.Fatal("entries must survive indefinitely once decay is stopped")
		}
	})
}

func TestDDFFalsePositiveRateIncreasesWithInsertions(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		clk := clock.NewReal()
		f := newTestFilter(time.Minute, clk)
		defer f.StopDecaying()

		before := f.FalsePositiveRate()
		for i := uint64(0); i < 1000; i++ {
			if _, err := f.AddLong(i); err != nil {
				t.Fatalf("AddLong: %v", err)
			}
		}
		after := f.FalsePositiveRate()
		if after <= before {
			t.Fatalf("expected false-positive rate to increase with insertions, before=%v after=%v", before, after)
		}
	})
}
