package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestSetValues_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.SetValues(ctx, "tenant-1", map[string]string{
		"cache:orders":    `{"a":1}`,
		"cache:customers": `[]`,
	})
	if err != nil {
		t.Fatalf("SetValues() failed: %v", err)
	}

	got, err := s.GetValue(ctx, "tenant-1", "cache:orders")
	if err != nil {
		t.Fatalf("GetValue() failed: %v", err)
	}
	if got != `{"a":1}` {
		t.Errorf("value = %q, want %q", got, `{"a":1}`)
	}
}

func TestSetValues_Overwrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.SetValues(ctx, "tenant-1", map[string]string{"k": "v1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetValues(ctx, "tenant-1", map[string]string{"k": "v2"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetValue(ctx, "tenant-1", "k")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v2" {
		t.Errorf("value = %q, want v2", got)
	}
}

func TestGetValue_TenantIsolation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.SetValues(ctx, "tenant-a", map[string]string{"k": "a"}); err != nil {
		t.Fatal(err)
	}

	_, err := s.GetValue(ctx, "tenant-b", "k")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetValue() for other tenant: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteValues(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.SetValues(ctx, "tenant-1", map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteValues(ctx, "tenant-1", "a", "missing"); err != nil {
		t.Fatalf("DeleteValues() failed: %v", err)
	}

	if _, err := s.GetValue(ctx, "tenant-1", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("a still present: %v", err)
	}
	if _, err := s.GetValue(ctx, "tenant-1", "b"); err != nil {
		t.Errorf("b removed: %v", err)
	}
}

func TestListKeys_Prefix(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.SetValues(ctx, "tenant-1", map[string]string{
		"cart:walkin":   "[]",
		"cart:delivery": "[]",
		"cache:orders":  "{}",
	})
	if err != nil {
		t.Fatal(err)
	}

	keys, err := s.ListKeys(ctx, "tenant-1", "cart:")
	if err != nil {
		t.Fatalf("ListKeys() failed: %v", err)
	}
	want := []string{"cart:delivery", "cart:walkin"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}

	all, err := s.ListKeys(ctx, "tenant-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestLoadValues_SkipsMissing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.SetValues(ctx, "tenant-1", map[string]string{"a": "1"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadValues(ctx, "tenant-1", []string{"a", "b"})
	if err != nil {
		t.Fatalf("LoadValues() failed: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]string{"a": "1"}) {
		t.Errorf("got %v", got)
	}
}
