package leakcheck

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	errors []string
}

func (r *recorder) Helper() {}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *recorder) Logf(string, ...interface{}) {}

func TestDetectorPassesWhenGoroutinesExit(t *testing.T) {
	rec := &recorder{}
	d := New(rec)

	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(done)
	}()

	d.Check()
	<-done
	assert.Empty(t, rec.errors)
}

func TestDetectorReportsLeak(t *testing.T) {
	rec := &recorder{}
	d := New(rec).Within(50 * time.Millisecond)

	stop := make(chan struct{})
	defer close(stop)
	go func() { <-stop }()

	d.Check()
	assert.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "goroutine leak")
}

func TestDetectorAllowance(t *testing.T) {
	rec := &recorder{}
	d := New(rec).Allow(1).Within(50 * time.Millisecond)

	stop := make(chan struct{})
	defer close(stop)
	go func() { <-stop }()

	d.Check()
	assert.Empty(t, rec.errors)
}
