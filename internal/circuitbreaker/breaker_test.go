package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errFetch = errors.New("fetch failed")

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b := New(3, 0.6, time.Hour)

	for i := 0; i < 3; i++ {
		b.Execute(func() error { return errFetch })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpenState) {
		t.Errorf("open breaker admitted a request: %v", err)
	}
}

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	b := New(3, 0.6, time.Hour)
	for i := 0; i < 10; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatal(err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s", b.State())
	}
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	b := New(2, 0.5, 10*time.Millisecond)

	b.Execute(func() error { return errFetch })
	b.Execute(func() error { return errFetch })
	if b.State() != StateOpen {
		t.Fatalf("state = %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state after successful probe = %s", b.State())
	}
}

func TestPerSource_Independent(t *testing.T) {
	p := NewPerSource(2, 0.5, time.Hour)

	p.Execute("dead", func() error { return errFetch })
	p.Execute("dead", func() error { return errFetch })

	if p.State("dead") != StateOpen {
		t.Errorf("dead source state = %s", p.State("dead"))
	}
	if err := p.Execute("alive", func() error { return nil }); err != nil {
		t.Errorf("healthy source affected by dead one: %v", err)
	}
}
