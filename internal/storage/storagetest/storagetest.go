// Package storagetest checks the behaviour every KeyValueStore backend must
// share.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tjfontaine/routex-demo/internal/storage"
)

// Run exercises a store built by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) storage.KeyValueStore) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
		if _, err := s.Take(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Take() error = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, "nope"); err != nil {
			t.Errorf("Delete() error = %v", err)
		}
	})

	t.Run("set overwrites", func(t *testing.T) {
		s := newStore(t)
		if err := s.Set(ctx, "redirectState", []byte("first")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := s.Set(ctx, "redirectState", []byte("second")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, err := s.Get(ctx, "redirectState")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "second" {
			t.Errorf("Get() = %q, want second", got)
		}
	})

	t.Run("keys with separators", func(t *testing.T) {
		s := newStore(t)
		key := "connectionData/bank:1/x y"
		if err := s.Set(ctx, key, []byte{0, 1, 2}); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, err := s.Get(ctx, key)
		if err != nil || len(got) != 3 || got[2] != 2 {
			t.Errorf("Get() = %v, %v", got, err)
		}
	})

	t.Run("take consumes once", func(t *testing.T) {
		s := newStore(t)
		if err := s.Set(ctx, "k", []byte("v")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, err := s.Take(ctx, "k")
		if err != nil || string(got) != "v" {
			t.Fatalf("Take() = %q, %v", got, err)
		}
		if _, err := s.Take(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("second Take() error = %v, want ErrNotFound", err)
		}
		if _, err := s.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() after Take error = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent take has one winner", func(t *testing.T) {
		s := newStore(t)
		if err := s.Set(ctx, "k", []byte("v")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		const takers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < takers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Take(ctx, "k")
				switch {
				case err == nil:
					mu.Lock()
					wins++
					mu.Unlock()
				case !errors.Is(err, storage.ErrNotFound):
					t.Errorf("Take() error = %v", err)
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Errorf("winners = %d, want 1", wins)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		if err := s.Set(ctx, "k", []byte("v")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := s.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() after Delete error = %v", err)
		}
	})
}
