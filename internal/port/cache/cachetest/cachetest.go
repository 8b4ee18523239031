// Package cachetest provides a behavioral suite every cache.Cache must pass.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/elicitor/internal/port/cache"
)

// Run exercises c with the standard set/get/delete/overwrite cases.
// settle is called after each write for backends that apply writes
// asynchronously; it may be nil.
func Run(t *testing.T, c cache.Cache, settle func()) {
	t.Helper()
	ctx := context.Background()
	wait := func() {
		if settle != nil {
			settle()
		}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "dedup:t1:abc", []byte(`{"answer":"yes"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		wait()
		val, found, err := c.Get(ctx, "dedup:t1:abc")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"answer":"yes"}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "dedup:t1:missing")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for unknown key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "dedup:t1:del", []byte("v"), time.Minute)
		wait()
		if err := c.Delete(ctx, "dedup:t1:del"); err != nil {
			t.Fatal(err)
		}
		wait()
		if _, found, _ := c.Get(ctx, "dedup:t1:del"); found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteUnknown", func(t *testing.T) {
		if err := c.Delete(ctx, "dedup:never"); err != nil {
			t.Fatalf("Delete of unknown key: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "dedup:t1:ow", []byte("v1"), time.Minute)
		wait()
		_ = c.Set(ctx, "dedup:t1:ow", []byte("v2"), time.Minute)
		wait()
		val, found, err := c.Get(ctx, "dedup:t1:ow")
		if err != nil || !found {
			t.Fatalf("Get after overwrite: found=%v err=%v", found, err)
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2, got %s", val)
		}
	})
}
