package draw_test

import (
	"reflect"
	"testing"

	"mintline/internal/domain"
	"mintline/internal/draw"
)

func TestSelectModulus(t *testing.T) {
	available := []string{"3", "7", "12"}
	index, identity, err := draw.Select(available, "02")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if index != 2 || identity != "12" {
		t.Fatalf("got index=%d identity=%s, want 2/12", index, identity)
	}
}

func TestSelectLargeValueWraps(t *testing.T) {
	available := []string{"a", "b", "c"}
	// 0xff = 255, 255 mod 3 = 0
	index, identity, err := draw.Select(available, "ff")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if index != 0 || identity != "a" {
		t.Fatalf("got index=%d identity=%s, want 0/a", index, identity)
	}
}

func TestSelectErrors(t *testing.T) {
	if _, _, err := draw.Select(nil, "02"); err != draw.ErrNoneAvailable {
		t.Fatalf("empty set: got %v", err)
	}
	if _, _, err := draw.Select([]string{"1"}, ""); err != draw.ErrEmptyRandom {
		t.Fatalf("empty random: got %v", err)
	}
	if _, _, err := draw.Select([]string{"1"}, "zz"); err != draw.ErrBadRandomHex {
		t.Fatalf("bad hex: got %v", err)
	}
	if _, _, err := draw.Select([]string{"1"}, "0000"); err != draw.ErrAllZeroRandom {
		t.Fatalf("all zero: got %v", err)
	}
}

func TestSelectDeterministic(t *testing.T) {
	available := []string{"1", "2", "3", "4", "5"}
	i1, id1, _ := draw.Select(available, "deadbeef")
	i2, id2, _ := draw.Select(available, "deadbeef")
	if i1 != i2 || id1 != id2 {
		t.Fatalf("same inputs diverged: %d/%s vs %d/%s", i1, id1, i2, id2)
	}
}

func TestAvailableExcludesCapped(t *testing.T) {
	supplies := []domain.IdentitySupply{
		{Identity: "2", Minted: 1, Reserved: 0, MaxSupply: 5},
		{Identity: "1", Minted: 3, Reserved: 2, MaxSupply: 5},
		{Identity: "3", Minted: 10, Reserved: 0, MaxSupply: 0},
	}
	got := draw.Available(supplies)
	// identity 1 is at cap (3+2 >= 5); identity 3 is uncapped.
	want := []string{"2", "3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("available = %v, want %v", got, want)
	}
}

func TestSortIdentitiesNumeric(t *testing.T) {
	ids := []string{"12", "3", "7"}
	draw.SortIdentities(ids)
	if !reflect.DeepEqual(ids, []string{"3", "7", "12"}) {
		t.Fatalf("numeric sort = %v", ids)
	}
	mixed := []string{"b", "10", "a"}
	draw.SortIdentities(mixed)
	if !reflect.DeepEqual(mixed, []string{"10", "a", "b"}) {
		t.Fatalf("lexical sort = %v", mixed)
	}
}
