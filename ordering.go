package pagesync

import (
	"fmt"
	"strings"
)

// lexicographic ordering keys for manually ordered collections.
// the alphabet is lowercase a-z. keys are never renumbered in bulk; a new key
// is always generated strictly between its neighbors, lengthening the string
// when no single character fits. keys consisting only of 'a' are never
// generated, so there is always room to insert before the smallest key.

const orderAlphabetMin = byte('a')
const orderAlphabetMax = byte('z')
const orderAlphabetMid = byte('m')

// beyond this length the caller should renumber the collection
const MaxOrderKeyLength = 40

// KeyBetween returns a key strictly between `before` and `after`.
// an empty string is an open boundary:
//
//	KeyBetween("", "") is the first key in an empty collection
//	KeyBetween("", k) is a key before the smallest key k
//	KeyBetween(k, "") is a key after the largest key k
//
// the function is pure and deterministic given its inputs.
func KeyBetween(before string, after string) (string, error) {
	key, err := keyBetween(before, after)
	if err != nil {
		return "", err
	}
	if MaxOrderKeyLength < len(key) {
		return "", &OrderingOverflowError{Length: len(key)}
	}
	return key, nil
}

func keyBetween(before string, after string) (string, error) {
	if before == "" && after == "" {
		return string(orderAlphabetMid), nil
	}
	if before == "" {
		return keyBefore(after)
	}
	if after == "" {
		return keyAfter(before), nil
	}
	if after <= before {
		return "", fmt.Errorf("ordering bounds out of order: %q >= %q", before, after)
	}

	i := 0
	for i < len(before) && i < len(after) && before[i] == after[i] {
		i += 1
	}
	if i == len(before) {
		// before is a strict prefix of after. descend into the shared branch.
		suffix, err := keyBefore(after[i:])
		if err != nil {
			return "", err
		}
		return before + suffix, nil
	}

	c1 := before[i]
	c2 := after[i]
	if 2 <= c2-c1 {
		// a single character fits between the codes
		return before[:i] + string(c1+(c2-c1)/2), nil
	}
	// adjacent codes. stay in before's branch, which is open above at this depth.
	return before[:i+1] + keyAfterOrMid(before[i+1:]), nil
}

// a key strictly less than k. halves the leading character code so that
// repeated head insertion converges instead of stepping one code at a time.
func keyBefore(k string) (string, error) {
	i := 0
	for i < len(k) && k[i] == orderAlphabetMin {
		i += 1
	}
	if i == len(k) {
		// an all-'a' key has no room below it. the generator never produces
		// one, so this only happens with a corrupt foreign key.
		return "", fmt.Errorf("no ordering key before %q", k)
	}
	if 2 <= k[i]-orderAlphabetMin {
		return k[:i] + string(orderAlphabetMin+(k[i]-orderAlphabetMin)/2), nil
	}
	// k[i] == 'b'. descend one level below it.
	return k[:i] + string(orderAlphabetMin) + string(orderAlphabetMid), nil
}

// a key strictly greater than k: successor of the last character, or
// lengthen with the maximum character when already at the maximum.
func keyAfter(k string) string {
	last := k[len(k)-1]
	if last < orderAlphabetMax {
		return k[:len(k)-1] + string(last+1)
	}
	return k + string(orderAlphabetMax)
}

func keyAfterOrMid(k string) string {
	if k == "" {
		return string(orderAlphabetMid)
	}
	return keyAfter(k)
}

// IsOrderKey reports whether s is a value from the generator's key space.
// entities that have never been manually reordered carry an opaque creation id
// in the sort-key slot; such values (hex digits, dashes, excessive length)
// are not ordering keys and must be treated as open boundaries.
func IsOrderKey(s string) bool {
	if len(s) == 0 || MaxOrderKeyLength < len(s) {
		return false
	}
	allMin := true
	for i := 0; i < len(s); i += 1 {
		if s[i] < orderAlphabetMin || orderAlphabetMax < s[i] {
			return false
		}
		if s[i] != orderAlphabetMin {
			allMin = false
		}
	}
	return !allMin
}

// OrderKey is the explicit tri-state position of an entity in a manually
// ordered collection: either no key has been assigned yet (the entity sorts by
// its creation id), or a key has been assigned by a reorder.
type OrderKey struct {
	key      string
	assigned bool
}

func NoOrderKey() OrderKey {
	return OrderKey{}
}

func AssignedOrderKey(key string) OrderKey {
	return OrderKey{
		key:      key,
		assigned: true,
	}
}

func (self OrderKey) Assigned() bool {
	return self.assigned
}

func (self OrderKey) Key() string {
	return self.key
}

func (self OrderKey) MarshalJSON() ([]byte, error) {
	if !self.assigned {
		return []byte("null"), nil
	}
	return []byte(`"` + self.key + `"`), nil
}

// servers that predate explicit ordering keys send the creation id in the
// sort-key slot. any value outside the key space decodes as "no key yet".
func (self *OrderKey) UnmarshalJSON(src []byte) error {
	s := string(src)
	if s == "null" {
		*self = NoOrderKey()
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("cannot parse ordering key %s", s)
	}
	value := s[1 : len(s)-1]
	if !IsOrderKey(value) {
		*self = NoOrderKey()
		return nil
	}
	*self = AssignedOrderKey(value)
	return nil
}

// KeyBetweenEntities generates a key between two neighbors in a collection,
// treating neighbors without an assigned key as open boundaries.
func KeyBetweenEntities(before *Entity, after *Entity) (string, error) {
	beforeKey := ""
	if before != nil && before.OrderKey.Assigned() {
		beforeKey = before.OrderKey.Key()
	}
	afterKey := ""
	if after != nil && after.OrderKey.Assigned() {
		afterKey = after.OrderKey.Key()
	}
	return KeyBetween(beforeKey, afterKey)
}

// CompareOrdered is the canonical sort for manually ordered collections:
// assigned keys first in lexicographic order, then entities that have never
// been reordered in creation id order.
func CompareOrdered(a *Entity, b *Entity) int {
	switch {
	case a.OrderKey.Assigned() && b.OrderKey.Assigned():
		return strings.Compare(a.OrderKey.Key(), b.OrderKey.Key())
	case a.OrderKey.Assigned():
		return -1
	case b.OrderKey.Assigned():
		return 1
	default:
		return strings.Compare(a.Id, b.Id)
	}
}
