package cluster

import "testing"

func TestHashTag(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"foo", "foo"},
		{"{user1000}.following", "user1000"},
		{"{user1000}.followers", "user1000"},
		{"{}foo", "{}foo"},  // empty tag: falls back to the whole key
		{"{foo", "{foo"},    // unclosed brace: falls back to the whole key
		{"foo{bar", "foo{bar"},
		{"foo{}bar", "foo{}bar"},
		{"foo{bar}{baz}", "bar"}, // only the first tag counts
	}
	for _, c := range cases {
		got := string(HashTag([]byte(c.key)))
		if got != c.want {
			t.Errorf("HashTag(%q) = %q, want %q", c.key, got, c.want)
		}
	}
}

// TestCRC16CheckValue pins crc16 against the standard CRC-16/XMODEM
// check value for the ASCII digit string "123456789".
func TestCRC16CheckValue(t *testing.T) {
	const want = 0x31C3
	if got := crc16([]byte("123456789")); got != want {
		t.Errorf("crc16(\"123456789\") = 0x%04X, want 0x%04X", got, want)
	}
}

// TestSlotKnownVectors pins Slot against the canonical values Redis
// Cluster documentation quotes for these keys.
func TestSlotKnownVectors(t *testing.T) {
	cases := []struct {
		key  string
		want uint16
	}{
		{"foo", 12182},
	}
	for _, c := range cases {
		if got := Slot([]byte(c.key)); got != c.want {
			t.Errorf("Slot(%q) = %d, want %d", c.key, got, c.want)
		}
	}
}

func TestSlotHashTagSharesSlot(t *testing.T) {
	a := Slot([]byte("{user1000}.following"))
	b := Slot([]byte("{user1000}.followers"))
	if a != b {
		t.Errorf("keys sharing a hash tag must hash to the same slot: %d != %d", a, b)
	}
}

func TestSlotInRange(t *testing.T) {
	keys := []string{"foo", "bar", "{user1000}.following", "", "{}foo", "{foo"}
	for _, k := range keys {
		s := Slot([]byte(k))
		if s >= SlotCount {
			t.Errorf("Slot(%q) = %d, out of range [0,%d)", k, s, SlotCount)
		}
	}
}
