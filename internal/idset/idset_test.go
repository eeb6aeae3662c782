package idset_test

import (
	"reflect"
	"testing"

	"subsync/internal/idset"
)

func TestAddKeepsFirstOccurrence(t *testing.T) {
	s := idset.New("3", "1", "3", "2", "1")
	got := s.IDs()
	want := []string{"3", "1", "2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if s.Len() != 3 {
		t.Fatalf("expected len 3, got %d", s.Len())
	}
}

func TestAddIgnoresEmpty(t *testing.T) {
	s := idset.New("", "a", "")
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("unexpected members: %v", got)
	}
}

func TestDiffPreservesOrder(t *testing.T) {
	before := idset.New("1", "2")
	after := idset.New("1", "2", "4", "3")
	got := after.Diff(before)
	if !reflect.DeepEqual(got, []string{"4", "3"}) {
		t.Fatalf("unexpected diff: %v", got)
	}
	if diff := before.Diff(after); diff != nil {
		t.Fatalf("expected empty diff, got %v", diff)
	}
}

func TestZeroValueUsable(t *testing.T) {
	var s idset.Set
	if s.Contains("x") {
		t.Fatal("empty set should not contain anything")
	}
	s.Add("x")
	if !s.Contains("x") {
		t.Fatal("expected membership after Add")
	}
}
