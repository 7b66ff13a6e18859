package runner

import (
	"testing"
	"time"
)

func TestNoDelayStrategy(t *testing.T) {
	s := NoDelayStrategy{}
	for attempt := 0; attempt < 3; attempt++ {
		if d := s.SleepDuration(attempt, nil); d != 0 {
			t.Fatalf("attempt %d: expected zero delay, got %s", attempt, d)
		}
	}
}

func TestExponentialBackoffStrategy(t *testing.T) {
	s := ExponentialBackoffStrategy{
		Base:   10 * time.Millisecond,
		Factor: 2,
		Max:    100 * time.Millisecond,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{2, 40 * time.Millisecond},
		{10, 100 * time.Millisecond},
		{-1, 10 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := s.SleepDuration(tc.attempt, nil); got != tc.want {
			t.Errorf("attempt %d: expected %s, got %s", tc.attempt, tc.want, got)
		}
	}
}
