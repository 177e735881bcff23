package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsAfterFirstSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if calls != 1 {
		t.Fatalf("ожидали 1 вызов, получили %d", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return errors.New("временная ошибка")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if calls != 3 {
		t.Fatalf("ожидали 3 вызова, получили %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	sentinel := errors.New("постоянная ошибка")
	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		return sentinel
	})
	if calls != 3 {
		t.Fatalf("ожидали 3 вызова, получили %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("ожидали исходную ошибку в цепочке, получили: %v", err)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, p, func() error {
		calls++
		return errors.New("ошибка")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили: %v", err)
	}
	if calls != 1 {
		t.Fatalf("ожидали 1 вызов до отмены, получили %d", calls)
	}
}

func TestDelayCappedAndGrowing(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 4 * time.Second, Multiplier: 2}
	if got := p.Delay(0); got != time.Second {
		t.Fatalf("ожидали 1s, получили %v", got)
	}
	if got := p.Delay(1); got != 2*time.Second {
		t.Fatalf("ожидали 2s, получили %v", got)
	}
	if got := p.Delay(10); got != 4*time.Second {
		t.Fatalf("ожидали потолок 4s, получили %v", got)
	}
}

func TestDelayJitterWithinBounds(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: true}
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		if d < time.Second || d > 2*time.Second {
			t.Fatalf("джиттер вне диапазона [1s, 2s]: %v", d)
		}
	}
}
