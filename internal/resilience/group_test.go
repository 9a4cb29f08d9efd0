package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestGroupUsesPrimaryWhileHealthy(t *testing.T) {
	t.Parallel()

	g := NewGroup("primary", "primary", BreakerConfig{})
	g.AddFallback("backup", "backup")

	got, err := Do(g, func(name string) (string, error) { return name, nil })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "primary" {
		t.Fatalf("served by %q, want primary", got)
	}
}

func TestGroupFallsBackOnFailure(t *testing.T) {
	t.Parallel()

	g := NewGroup("primary", "primary", BreakerConfig{})
	g.AddFallback("backup", "backup")

	got, err := Do(g, func(name string) (string, error) {
		if name == "primary" {
			return "", errors.New("primary down")
		}
		return name, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "backup" {
		t.Fatalf("served by %q, want backup", got)
	}
}

func TestGroupSkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	g := NewGroup("primary", "primary", BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	g.AddFallback("backup", "backup")

	// Trip the primary's breaker.
	Do(g, func(name string) (string, error) {
		if name == "primary" {
			return "", errors.New("primary down")
		}
		return name, nil
	})

	var tried []string
	got, err := Do(g, func(name string) (string, error) {
		tried = append(tried, name)
		return name, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "backup" {
		t.Fatalf("served by %q, want backup", got)
	}
	if len(tried) != 1 || tried[0] != "backup" {
		t.Fatalf("tried %v, want [backup] only", tried)
	}
}

func TestGroupAllFailedPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("quota exceeded")
	g := NewGroup("only", "only", BreakerConfig{})

	_, err := Do(g, func(string) (string, error) { return "", cause })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want underlying cause preserved", err)
	}
}

func TestGroupNames(t *testing.T) {
	t.Parallel()

	g := NewGroup(1, "a", BreakerConfig{})
	g.AddFallback("b", 2)
	g.AddFallback("c", 3)

	names := g.Names()
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}
