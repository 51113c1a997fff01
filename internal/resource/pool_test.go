package resource

import (
	"context"
	"testing"
	"time"
)

func TestRequest_GrantsAllOrNone(t *testing.T) {
	p := New(map[string][]string{
		"gpu": {"gpu-0", "gpu-1"},
		"net": {"net-0"},
	})

	lease, err := p.Request(context.Background(), []Demand{{Name: "gpu", Count: 1}, {Name: "net", Count: 1}})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got := lease.Tokens("gpu"); len(got) != 1 {
		t.Errorf("expected 1 gpu token, got %v", got)
	}
	if got := lease.Tokens("net"); len(got) != 1 {
		t.Errorf("expected 1 net token, got %v", got)
	}
	if p.Size("gpu") != 1 || p.Size("net") != 0 {
		t.Errorf("pool sizes not decremented correctly: gpu=%d net=%d", p.Size("gpu"), p.Size("net"))
	}
}

func TestRequest_BlocksUntilAvailable(t *testing.T) {
	p := New(map[string][]string{"gpu": {"gpu-0"}})

	lease1, err := p.Request(context.Background(), []Demand{{Name: "gpu", Count: 1}})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		lease2, err := p.Request(context.Background(), []Demand{{Name: "gpu", Count: 1}})
		if err != nil {
			t.Errorf("second Request failed: %v", err)
			return
		}
		lease2.Release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Request should have blocked while first lease is held")
	case <-time.After(50 * time.Millisecond):
	}

	lease1.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Request did not unblock after release")
	}
}

func TestRequest_ContextCancellation(t *testing.T) {
	p := New(map[string][]string{"gpu": {}})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Request(ctx, []Demand{{Name: "gpu", Count: 1}})
	if err == nil {
		t.Fatal("expected Request to fail on context cancellation")
	}
}

func TestRequest_NeverPartiallyGrants(t *testing.T) {
	p := New(map[string][]string{"gpu": {"gpu-0"}, "net": {}})

	resultCh := make(chan error, 1)
	go func() {
		_, err := p.Request(context.Background(), []Demand{{Name: "gpu", Count: 1}, {Name: "net", Count: 1}})
		resultCh <- err
	}()

	select {
	case <-resultCh:
		t.Fatal("request for an unavailable resource should not return")
	case <-time.After(50 * time.Millisecond):
	}

	if p.Size("gpu") != 1 {
		t.Error("gpu token should not have been taken when net demand could not be satisfied")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	p := New(map[string][]string{"gpu": {"gpu-0"}})
	lease, err := p.Request(context.Background(), []Demand{{Name: "gpu", Count: 1}})
	if err != nil {
		t.Fatal(err)
	}
	lease.Release()
	lease.Release()
	if p.Size("gpu") != 1 {
		t.Errorf("expected token returned exactly once, got pool size %d", p.Size("gpu"))
	}
}

func TestTryRequest_NonBlocking(t *testing.T) {
	p := New(map[string][]string{"gpu": {}})
	if _, ok := p.TryRequest([]Demand{{Name: "gpu", Count: 1}}); ok {
		t.Fatal("expected TryRequest to report not-ok when unsatisfiable")
	}

	p2 := New(map[string][]string{"gpu": {"gpu-0"}})
	lease, ok := p2.TryRequest([]Demand{{Name: "gpu", Count: 1}})
	if !ok {
		t.Fatal("expected TryRequest to succeed")
	}
	defer lease.Release()
	if p2.Size("gpu") != 0 {
		t.Errorf("expected gpu token taken, pool size = %d", p2.Size("gpu"))
	}
}

func TestNilLeaseRelease(t *testing.T) {
	var lease *Lease
	lease.Release() // must not panic
}
