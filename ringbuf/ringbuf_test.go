package ringbuf

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestWriteReadWraparound(t *testing.T) {
	b := New(1024)
	first := make([]byte, 800)
	for i := range first {
		first[i] = byte(i)
	}
	if _, err := b.Write(first); err != nil {
		t.Fatalf("write 800: %v", err)
	}
	readBack := make([]byte, 800)
	if _, err := b.Read(readBack); err != nil {
		t.Fatalf("read 800: %v", err)
	}
	if !bytes.Equal(first, readBack) {
		t.Fatal("first batch not bit-identical")
	}

	second := make([]byte, 400)
	for i := range second {
		second[i] = byte(200 + i)
	}
	if _, err := b.Write(second); err != nil {
		t.Fatalf("write 400: %v", err)
	}
	if b.Len() != 400 {
		t.Fatalf("count = %d, want 400", b.Len())
	}
	readBack2 := make([]byte, 400)
	if _, err := b.Read(readBack2); err != nil {
		t.Fatalf("read 400: %v", err)
	}
	if !bytes.Equal(second, readBack2) {
		t.Fatal("second batch not bit-identical across wraparound")
	}
	if b.Overflowed() {
		t.Fatal("overflow should not have latched")
	}
}

func TestWriteExactFreeSucceedsOneOverFails(t *testing.T) {
	b := New(16)
	ok := make([]byte, 16)
	if _, err := b.Write(ok); err != nil {
		t.Fatalf("write(n=free) should succeed: %v", err)
	}
	b.Reset()
	if _, err := b.Write(make([]byte, 17)); err == nil {
		t.Fatal("write(n=free+1) should fail")
	}
	if !b.Overflowed() {
		t.Fatal("overflow should latch on rejected write")
	}
}

func TestOverflowLatchesStickyUntilReset(t *testing.T) {
	b := New(4)
	_, _ = b.Write(make([]byte, 5))
	if !b.Overflowed() {
		t.Fatal("expected overflow")
	}
	_, _ = b.Write(make([]byte, 1))
	if !b.Overflowed() {
		t.Fatal("overflow must remain latched after an unrelated successful write")
	}
	b.Reset()
	if b.Overflowed() {
		t.Fatal("Reset must clear overflow")
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	b := New(8)
	_, _ = b.Write([]byte("abcd"))
	peeked := make([]byte, 4)
	if _, err := b.Peek(peeked); err != nil {
		t.Fatal(err)
	}
	if string(peeked) != "abcd" {
		t.Fatalf("peeked = %q", peeked)
	}
	if b.Len() != 4 {
		t.Fatal("peek must not consume")
	}
	read := make([]byte, 4)
	_, _ = b.Read(read)
	if string(read) != "abcd" {
		t.Fatalf("read after peek = %q", read)
	}
}

func TestCountPlusFreeEqualsCapacityRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := New(97)
	var shadow []byte
	for i := 0; i < 5000; i++ {
		if b.Len() != len(shadow) {
			t.Fatalf("count drifted from shadow: %d vs %d", b.Len(), len(shadow))
		}
		if b.Len()+b.Free() != b.Cap() {
			t.Fatalf("count + free != capacity at step %d", i)
		}
		if rng.Intn(2) == 0 {
			n := rng.Intn(20)
			p := make([]byte, n)
			rng.Read(p)
			if _, err := b.Write(p); err == nil {
				shadow = append(shadow, p...)
			}
		} else {
			n := rng.Intn(20)
			if n > len(shadow) {
				continue
			}
			got := make([]byte, n)
			if _, err := b.Read(got); err == nil {
				if !bytes.Equal(got, shadow[:n]) {
					t.Fatalf("read mismatch at step %d", i)
				}
				shadow = shadow[n:]
			}
		}
	}
}
