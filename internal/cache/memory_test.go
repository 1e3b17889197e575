package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_GetSetDelete(t *testing.T) {
	t.Parallel()
	c := NewMemory("t", 0)
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v" {
		t.Fatalf("got %q want %q", got, "v")
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "k"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemory_Expiry(t *testing.T) {
	t.Parallel()
	c := NewMemory("", 0)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); !IsNotFound(err) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemory_Incr(t *testing.T) {
	t.Parallel()
	c := NewMemory("", 0)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := c.Incr(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Fatalf("got %d want %d", n, want)
		}
	}
}
