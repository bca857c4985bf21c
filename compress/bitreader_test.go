package compress

import (
	"testing"
)

func TestBitReaderPeek(t *testing.T) {
	br := NewBitReader([]byte{0xab, 0xcd, 0xef, 0x01, 0x23})

	if got := br.Peek(32); got != 0xabcdef01 {
		t.Fatalf("Peek(32) = %#x, want 0xabcdef01", got)
	}
	if got := br.Peek(8); got != 0xab {
		t.Fatalf("Peek(8) = %#x, want 0xab", got)
	}
	if got := br.Peek(4); got != 0xa {
		t.Fatalf("Peek(4) = %#x, want 0xa", got)
	}
	// peek has no side effects
	if got := br.Peek(32); got != 0xabcdef01 {
		t.Fatalf("repeated Peek(32) = %#x, want 0xabcdef01", got)
	}
}

func TestBitReaderEat(t *testing.T) {
	br := NewBitReader([]byte{0xab, 0xcd, 0xef, 0x01, 0x23})

	if br.BitsLeft() != 40 {
		t.Fatal("BitsLeft not 40:", br.BitsLeft())
	}
	if !br.Eat(4) {
		t.Fatal("Eat(4) failed")
	}
	if got := br.Peek(32); got != 0xbcdef012 {
		t.Fatalf("Peek(32) after Eat(4) = %#x, want 0xbcdef012", got)
	}
	if !br.Eat(12) {
		t.Fatal("Eat(12) failed")
	}
	if br.BitsLeft() != 24 {
		t.Fatal("BitsLeft not 24:", br.BitsLeft())
	}
	if got := br.Peek(8); got != 0xef {
		t.Fatalf("Peek(8) = %#x, want 0xef", got)
	}
	if br.Eat(25) {
		t.Fatal("Eat past end did not fail")
	}
	if br.BitsLeft() != 24 {
		t.Fatal("failed Eat moved position")
	}
	if !br.Eat(24) {
		t.Fatal("Eat to exact end failed")
	}
	if br.BitsLeft() != 0 {
		t.Fatal("BitsLeft not 0 at end:", br.BitsLeft())
	}
}

func TestBitReaderPeekPastEnd(t *testing.T) {
	// missing low-order bits read as zero
	br := NewBitReader([]byte{0xff})
	if got := br.Peek(32); got != 0xff000000 {
		t.Fatalf("Peek(32) over short stream = %#x, want 0xff000000", got)
	}

	br = NewBitReader(nil)
	if got := br.Peek(32); got != 0 {
		t.Fatalf("Peek(32) over empty stream = %#x, want 0", got)
	}
	if br.BitsLeft() != 0 {
		t.Fatal("empty stream has bits left")
	}
}
