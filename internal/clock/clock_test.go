package clock_test

import (
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/opnet-io/admitd/internal/clock"
)

func TestRealScheduleFires(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := clock.NewReal()

		var mu sync.Mutex
		fired := false

		c.Schedule(50*time.Millisecond, func() {
			mu.Lock()
			fired = true
			mu.Unlock()
		})

		time.Sleep(100 * time.Millisecond)
		synctest.Wait()

		mu.Lock()
		defer mu.Unlock()
		if !fired {
			t.Fatal("expected scheduled function to have fired")
		}
	})
}

func TestRealCancelPreventsFire(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := clock.NewReal()

		var mu sync.Mutex
		fired := false

		h := c.Schedule(50*time.Millisecond, func() {
			mu.Lock()
			fired = true
			mu.Unlock()
		})

		if ok := c.Cancel(h); !ok {
			t.Fatal("expected cancel of unfired timer to succeed")
		}

		time.Sleep(100 * time.Millisecond)
		synctest.Wait()

		mu.Lock()
		defer mu.Unlock()
		if fired {
			t.Fatal("cancelled timer must not fire")
		}
	})
}

func TestRealCancelAfterFireReturnsFalse(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := clock.NewReal()

		done := make(chan struct{})
		h := c.Schedule(10*time.Millisecond, func() { close(done) })

		time.Sleep(50 * time.Millisecond)
		synctest.Wait()
		<-done

		if ok := c.Cancel(h); ok {
			t.Fatal("expected cancel of already-fired timer to report false")
		}
	})
}

func TestRealNowMsMonotonic(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := clock.NewReal()
		first := c.NowMs()
		time.Sleep(10 * time.Millisecond)
		synctest.Wait()
		second := c.NowMs()
		if second < first {
			t.Fatalf("NowMs went backwards: %d -> %d", first, second)
		}
	})
}
