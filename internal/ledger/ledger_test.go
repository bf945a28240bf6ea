package ledger

import (
	"bytes"
	"testing"
	"time"
)

func TestRegisterCompleteRoundTrip(t *testing.T) {
	l := New()
	id := l.NextID()
	if id == 0 {
		t.Fatalf("expected nonzero request id")
	}
	wait := l.Register(id, time.Second)
	if !l.Complete(id, []byte("response")) {
		t.Fatalf("expected Complete to find pending slot")
	}
	resp, err := wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !bytes.Equal(resp, []byte("response")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestRegisterTimesOut(t *testing.T) {
	l := New()
	id := l.NextID()
	wait := l.Register(id, 10*time.Millisecond)
	_, err := wait()
	if err != ErrRequestTimeout {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if l.Pending() != 0 {
		t.Fatalf("expected slot removed after timeout")
	}
}

func TestCompleteUnknownIDIsDropped(t *testing.T) {
	l := New()
	if l.Complete(999, []byte("nothing")) {
		t.Fatalf("expected Complete to report no pending slot")
	}
}

func TestNextIDSkipsZero(t *testing.T) {
	l := New()
	l.counter = ^uint32(0) // one increment away from wrapping to zero
	id := l.NextID()
	if id == 0 {
		t.Fatalf("expected NextID to skip zero on wraparound")
	}
}
