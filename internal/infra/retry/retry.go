package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy задаёт параметры повторов с экспоненциальной выдержкой.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultPolicy — политика повторов по умолчанию: 3 попытки, выдержка
// от секунды с удвоением, потолок 60 секунд.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Delay возвращает выдержку перед попыткой attempt (нумерация с нуля).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(d)
}

// Do выполняет fn до первого успеха, не более MaxAttempts раз. Между
// попытками выдерживается пауза; отмена контекста прерывает ожидание.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("исчерпаны %d попыток: %w", p.MaxAttempts, lastErr)
}
