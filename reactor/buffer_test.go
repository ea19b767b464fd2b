//go:build linux

package reactor

import (
	"os"
	"testing"
)

func TestBufferAppendRetrieve(t *testing.T) {
	b := NewBuffer(0)
	if b.Readable() != 0 {
		t.Fatalf("fresh buffer should be empty, got %d readable", b.Readable())
	}

	b.Append([]byte("hello"))
	if b.Readable() != 5 {
		t.Fatalf("Readable() = %d, want 5", b.Readable())
	}

	got := b.RetrieveAsString(5)
	if got != "hello" {
		t.Fatalf("RetrieveAsString = %q, want %q", got, "hello")
	}
	if b.Readable() != 0 {
		t.Fatalf("buffer should be empty after full retrieve, got %d", b.Readable())
	}
}

func TestBufferGrowsWithoutLosingData(t *testing.T) {
	b := NewBuffer(4)
	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i)
	}
	b.Append(payload)
	if b.Readable() != len(payload) {
		t.Fatalf("Readable() = %d, want %d", b.Readable(), len(payload))
	}
	got := b.RetrieveAllAsString()
	if len(got) != len(payload) {
		t.Fatalf("retrieved %d bytes, want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], payload[i])
		}
	}
}

func TestBufferPrependCompacts(t *testing.T) {
	b := NewBuffer(1024)
	b.Append(make([]byte, 1000))
	b.Retrieve(900) // readIdx now deep into the buffer
	b.Append(make([]byte, 500))
	if b.Readable() != 100+500 {
		t.Fatalf("Readable() = %d, want %d", b.Readable(), 100+500)
	}
	if b.Prependable() != bufferPrependSize {
		t.Fatalf("Prependable() = %d, want %d after compaction", b.Prependable(), bufferPrependSize)
	}
}

func TestBufferFindCRLFAndEOL(t *testing.T) {
	b := NewBuffer(0)
	b.Append([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))
	if off := b.FindCRLF(); off != 14 {
		t.Errorf("FindCRLF() = %d, want 14", off)
	}
	if off := b.FindEOL(); off != 15 {
		t.Errorf("FindEOL() = %d, want 15", off)
	}
}

func TestBufferAppendUintRoundTrip(t *testing.T) {
	b := NewBuffer(0)
	b.AppendUint32(0xdeadbeef)
	if got := b.PeekUint32(); got != 0xdeadbeef {
		t.Errorf("PeekUint32() = %#x, want %#x", got, 0xdeadbeef)
	}
}

func TestBufferReadFDScatterRead(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	payload := make([]byte, 200000) // exceeds the 64 KiB extra buffer
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	go func() {
		w.Write(payload)
		w.Close()
	}()

	b := NewBuffer(1024)
	total := 0
	for total < len(payload) {
		n, err := b.ReadFD(int(r.Fd()))
		if err != nil {
			t.Fatalf("ReadFD: %v", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total != len(payload) {
		t.Fatalf("read %d bytes, want %d", total, len(payload))
	}
	got := b.RetrieveAllAsString()
	for i := 0; i < len(payload); i++ {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}
