package blobstore

import (
	"context"
	"testing"
)

func TestCachedStore_Get(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	id, err := inner.Upload(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	c, err := NewCachedStore(inner, 8)
	if err != nil {
		t.Fatalf("NewCachedStore() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := c.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "payload" {
			t.Errorf("Get() = %q", got)
		}
	}

	if _, gets := inner.Calls(); gets != 1 {
		t.Errorf("inner gets = %d, want 1", gets)
	}
}

func TestCachedStore_MissesNotCached(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	c, _ := NewCachedStore(inner, 8)
	id, _ := ContentID([]byte("late"))

	if got, _ := c.Get(ctx, id); got != nil {
		t.Fatalf("Get() = %q, want nil", got)
	}

	inner.Put(id, []byte("late"))
	got, err := c.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "late" {
		t.Errorf("Get() after upload = %q, want %q", got, "late")
	}
}

func TestCachedStore_UploadPopulates(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	c, _ := NewCachedStore(inner, 8)

	id, err := c.Upload(ctx, []byte("fresh"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if _, err := c.Get(ctx, id); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, gets := inner.Calls(); gets != 0 {
		t.Errorf("inner gets = %d, want 0", gets)
	}
}

func TestCachedStore_Evicts(t *testing.T) {
	ctx := context.Background()
	c, _ := NewCachedStore(NewMemoryStore(), 2)
	for _, p := range []string{"a", "b", "c"} {
		if _, err := c.Upload(ctx, []byte(p)); err != nil {
			t.Fatalf("Upload(%s) error = %v", p, err)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestNewCachedStore_RejectsNonPositiveSize(t *testing.T) {
	if _, err := NewCachedStore(NewMemoryStore(), 0); err == nil {
		t.Error("NewCachedStore(0) expected error")
	}
}
