// Package leakcheck fails a test when goroutines started during it are
// still running at the end.
package leakcheck

import (
	"runtime"
	"time"
)

// TB is the subset of testing.TB the checker needs
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// Detector compares goroutine counts before and after a test body
type Detector struct {
	t        TB
	baseline int
	allowed  int
	settle   time.Duration
	poll     time.Duration
}

// New records the current goroutine count as the baseline
func New(t TB) *Detector {
	d := &Detector{
		t:      t,
		settle: 2 * time.Second,
		poll:   20 * time.Millisecond,
	}
	d.baseline = runtime.NumGoroutine()
	return d
}

// Allow tolerates n goroutines above the baseline
func (d *Detector) Allow(n int) *Detector {
	d.allowed = n
	return d
}

// Within sets how long goroutines get to exit before Check fails
func (d *Detector) Within(settle time.Duration) *Detector {
	d.settle = settle
	return d
}

// Check polls until the goroutine count is back within the allowance or the
// settle time runs out, then reports the leak with all stacks.
func (d *Detector) Check() {
	d.t.Helper()
	deadline := time.Now().Add(d.settle)
	for {
		n := runtime.NumGoroutine()
		if n-d.baseline <= d.allowed {
			return
		}
		if time.Now().After(deadline) {
			buf := make([]byte, 1<<20)
			buf = buf[:runtime.Stack(buf, true)]
			d.t.Errorf("goroutine leak: started with %d, ended with %d (allowed %d)", d.baseline, n, d.allowed)
			d.t.Logf("goroutines:\n%s", buf)
			return
		}
		time.Sleep(d.poll)
	}
}
