package pagesync

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestKeyBetweenEmpty(t *testing.T) {
	key, err := KeyBetween("", "")
	assert.Equal(t, err, nil)
	assert.Equal(t, key, "m")

	// deterministic across fresh invocations
	key2, err := KeyBetween("", "")
	assert.Equal(t, err, nil)
	assert.Equal(t, key2, "m")
}

func TestKeyBetweenGap(t *testing.T) {
	key, err := KeyBetween("a", "c")
	assert.Equal(t, err, nil)
	assert.Equal(t, key, "b")
}

func TestKeyBetweenAllPairs(t *testing.T) {
	keys := []string{
		"ab", "am", "b", "bm", "bzc", "c", "cm", "m", "mam", "n", "x", "ym", "z", "zb",
	}
	for i := 0; i < len(keys); i += 1 {
		for j := i + 1; j < len(keys); j += 1 {
			before := keys[i]
			after := keys[j]
			if after <= before {
				continue
			}
			key, err := KeyBetween(before, after)
			assert.Equal(t, err, nil)
			if key <= before || after <= key {
				t.Fatalf("KeyBetween(%q, %q) = %q out of bounds", before, after, key)
			}
		}
	}
}

func TestKeyBetweenHeadInsert(t *testing.T) {
	key, err := KeyBetween("", "b")
	assert.Equal(t, err, nil)
	if "b" <= key {
		t.Fatalf("KeyBetween(\"\", \"b\") = %q not less than \"b\"", key)
	}

	// repeated insertion at the head never collides and stays bounded
	seen := map[string]bool{}
	current := "m"
	for i := 0; i < 50; i += 1 {
		next, err := KeyBetween("", current)
		assert.Equal(t, err, nil)
		if current <= next {
			t.Fatalf("head insert %d: %q not less than %q", i, next, current)
		}
		if seen[next] {
			t.Fatalf("head insert %d: collision on %q", i, next)
		}
		seen[next] = true
		if MaxOrderKeyLength < len(next) {
			t.Fatalf("head insert %d: key %q too long", i, next)
		}
		current = next
	}
}

func TestKeyBetweenTailInsert(t *testing.T) {
	seen := map[string]bool{}
	current := "m"
	for i := 0; i < 50; i += 1 {
		next, err := KeyBetween(current, "")
		assert.Equal(t, err, nil)
		if next <= current {
			t.Fatalf("tail insert %d: %q not greater than %q", i, next, current)
		}
		if seen[next] {
			t.Fatalf("tail insert %d: collision on %q", i, next)
		}
		seen[next] = true
		if MaxOrderKeyLength < len(next) {
			t.Fatalf("tail insert %d: key %q too long", i, next)
		}
		current = next
	}
}

func TestKeyBetweenDenseInsert(t *testing.T) {
	// insert 50 items consecutively between the same two fixed boundaries
	seen := map[string]bool{}
	before := "a"
	after := "c"
	for i := 0; i < 50; i += 1 {
		key, err := KeyBetween(before, after)
		assert.Equal(t, err, nil)
		if key <= before || after <= key {
			t.Fatalf("dense insert %d: %q out of (%q, %q)", i, key, before, after)
		}
		if seen[key] {
			t.Fatalf("dense insert %d: collision on %q", i, key)
		}
		seen[key] = true
		if MaxOrderKeyLength < len(key) {
			t.Fatalf("dense insert %d: key %q too long", i, key)
		}
		before = key
	}
}

func TestKeyBetweenPrefix(t *testing.T) {
	key, err := KeyBetween("a", "ab")
	assert.Equal(t, err, nil)
	if key <= "a" || "ab" <= key {
		t.Fatalf("KeyBetween(\"a\", \"ab\") = %q out of bounds", key)
	}
}

func TestKeyBetweenOverflow(t *testing.T) {
	before := strings.Repeat("z", MaxOrderKeyLength)
	_, err := KeyBetween(before, "")
	overflowErr, ok := err.(*OrderingOverflowError)
	assert.Equal(t, ok, true)
	assert.Equal(t, overflowErr.Length, MaxOrderKeyLength+1)
}

func TestIsOrderKey(t *testing.T) {
	assert.Equal(t, IsOrderKey("m"), true)
	assert.Equal(t, IsOrderKey("bm"), true)
	assert.Equal(t, IsOrderKey(""), false)
	// all-minimum keys have no room below them and are never generated
	assert.Equal(t, IsOrderKey("a"), false)
	assert.Equal(t, IsOrderKey("aaa"), false)
	// creation ids are not ordering keys
	assert.Equal(t, IsOrderKey("3f9a0c2e77b14d0f"), false)
	assert.Equal(t, IsOrderKey("0d1f55a0-6a3a-4c7e-9a3e-3a91d33c2b10"), false)
	assert.Equal(t, IsOrderKey(strings.Repeat("m", MaxOrderKeyLength+1)), false)
}

func TestOrderKeyJson(t *testing.T) {
	entity := &Entity{}

	// a creation id in the sort-key slot decodes as "no key yet"
	err := json.Unmarshal([]byte(`{"id":"d1","order_key":"3f9a0c2e77b14d0f"}`), entity)
	assert.Equal(t, err, nil)
	assert.Equal(t, entity.OrderKey.Assigned(), false)

	err = json.Unmarshal([]byte(`{"id":"d1","order_key":null}`), entity)
	assert.Equal(t, err, nil)
	assert.Equal(t, entity.OrderKey.Assigned(), false)

	err = json.Unmarshal([]byte(`{"id":"d1","order_key":"bm"}`), entity)
	assert.Equal(t, err, nil)
	assert.Equal(t, entity.OrderKey.Assigned(), true)
	assert.Equal(t, entity.OrderKey.Key(), "bm")
}

func TestKeyBetweenEntities(t *testing.T) {
	// fallback identifiers are boundaries, never midpoint operands
	before := &Entity{Id: "3f9a0c2e77b14d0f"}
	after := &Entity{Id: "77b14d0f3f9a0c2e"}
	key, err := KeyBetweenEntities(before, after)
	assert.Equal(t, err, nil)
	assert.Equal(t, key, "m")

	assigned := &Entity{Id: "d1", OrderKey: AssignedOrderKey("m")}
	key, err = KeyBetweenEntities(assigned, after)
	assert.Equal(t, err, nil)
	if key <= "m" {
		t.Fatalf("key %q not greater than %q", key, "m")
	}
}

func TestCompareOrdered(t *testing.T) {
	a := &Entity{Id: "2", OrderKey: AssignedOrderKey("b")}
	b := &Entity{Id: "1", OrderKey: AssignedOrderKey("c")}
	c := &Entity{Id: "0"}

	assert.Equal(t, CompareOrdered(a, b) < 0, true)
	// assigned keys sort before fallback identifiers
	assert.Equal(t, CompareOrdered(b, c) < 0, true)
	assert.Equal(t, CompareOrdered(c, c), 0)
}
