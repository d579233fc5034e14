package idempotency

import "testing"

func TestCurrentIsStableUntilRotation(t *testing.T) {
	m := NewKeyManager()

	first := m.Current()
	if first == "" {
		t.Fatal("expected a generated key")
	}

	// A failed submission does not rotate; retries see the same key.
	for i := 0; i < 5; i++ {
		if got := m.Current(); got != first {
			t.Fatalf("key changed without rotation: %q != %q", got, first)
		}
	}
}

func TestRotateIssuesFreshKey(t *testing.T) {
	m := NewKeyManager()

	first := m.Current()
	m.Rotate()
	second := m.Current()

	if second == first {
		t.Fatalf("expected a new key after rotation, got the same: %q", first)
	}
	if got := m.Current(); got != second {
		t.Fatalf("second key not stable: %q != %q", got, second)
	}
}

func TestKeysAreUnique(t *testing.T) {
	m := NewKeyManager()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k := m.Current()
		if seen[k] {
			t.Fatalf("duplicate key generated: %q", k)
		}
		seen[k] = true
		m.Rotate()
	}
}
