package syncx

import (
	"sync"
	"testing"
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(42)

	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}

	g.Set(100)
	if got := g.Get(); got != 100 {
		t.Errorf("Get() after Set = %d, want 100", got)
	}
}

func TestGuardUpdate(t *testing.T) {
	g := NewGuard(10)

	result := g.Update(func(v *int) any {
		old := *v
		*v = 20
		return old
	})

	if result != 10 {
		t.Errorf("Update returned %v, want 10", result)
	}
	if got := g.Get(); got != 20 {
		t.Errorf("Get() = %d, want 20", got)
	}
}

func TestGuardUpdateCheckAndSet(t *testing.T) {
	g := NewGuard(0)

	claim := func() bool {
		return g.Update(func(v *int) any {
			if *v != 0 {
				return false
			}
			*v = 1
			return true
		}).(bool)
	}

	if !claim() {
		t.Error("first claim should succeed")
	}
	if claim() {
		t.Error("second claim should fail")
	}
}

func TestGuardConcurrentSafety(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Update(func(v *int) any {
				*v++
				return nil
			})
		}()
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Get()
		}()
	}

	wg.Wait()

	if got := g.Get(); got != 100 {
		t.Errorf("Get() = %d, want 100", got)
	}
}

func TestGuardWithStruct(t *testing.T) {
	type stats struct {
		hits   int
		misses int
	}

	g := NewGuard(stats{})

	g.Set(stats{hits: 5, misses: 10})

	got := g.Get()
	if got.hits != 5 || got.misses != 10 {
		t.Errorf("Get() = %+v, want {5, 10}", got)
	}
}
