package ring

import (
	"sync"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(64, 8)
	h := b.Subscribe()
	defer b.Unsubscribe(h)

	want := []byte("hello ring buffer")
	b.Write(want)

	got := make([]byte, len(want))
	n, err := b.Read(h, got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(want) || string(got) != string(want) {
		t.Fatalf("got %q, want %q", got[:n], want)
	}
}

func TestWrapAround(t *testing.T) {
	b := New(16, 4) // rounds up to 16
	h := b.Subscribe()
	defer b.Unsubscribe(h)

	// Fill 12 of the 16 bytes, then write 6 more so the second write and
	// read straddle the wrap point.
	first := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	b.Write(first)
	buf := make([]byte, len(first))
	if n, err := b.Read(h, buf); err != nil || n != len(first) {
		t.Fatalf("read: n=%d err=%v", n, err)
	}

	second := []byte{13, 14, 15, 16, 17, 18}
	b.Write(second)
	buf2 := make([]byte, len(second))
	n, err := b.Read(h, buf2)
	if err != nil || n != len(second) {
		t.Fatalf("read2: n=%d err=%v", n, err)
	}
	for i, v := range second {
		if buf2[i] != v {
			t.Fatalf("byte %d: got %d want %d", i, buf2[i], v)
		}
	}
}

func TestLateSubscriberSeesOnlyFuture(t *testing.T) {
	b := New(64, 8)
	b.Write([]byte("before"))

	h := b.Subscribe()
	defer b.Unsubscribe(h)
	b.Write([]byte("after"))

	buf := make([]byte, 5)
	n, err := b.Read(h, buf)
	if err != nil || string(buf[:n]) != "after" {
		t.Fatalf("got %q, err %v", buf[:n], err)
	}
}

func TestSlowConsumerSlips(t *testing.T) {
	b := New(16, 4)
	h := b.Subscribe()
	defer b.Unsubscribe(h)

	// Commit well beyond capacity without the reader consuming anything.
	for i := 0; i < 10; i++ {
		b.Write([]byte{0, 1, 2, 3, 4, 5, 6, 7})
	}
	if h.Slips() == 0 {
		t.Fatal("expected reader to slip")
	}
	if b.Producer()-h.Cursor() > b.Cap() {
		t.Fatalf("lag %d exceeds capacity %d", b.Producer()-h.Cursor(), b.Cap())
	}
}

func TestProducerNeverBlocksOnConsumer(t *testing.T) {
	b := New(16, 4)
	h := b.Subscribe()
	defer b.Unsubscribe(h)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.Write([]byte{byte(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer stalled waiting on idle consumer")
	}
}

func TestConcurrentReaders(t *testing.T) {
	b := New(4096, 64)
	const nReaders = 8
	var wg sync.WaitGroup
	errc := make(chan error, nReaders)
	for i := 0; i < nReaders; i++ {
		h := b.Subscribe()
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			defer b.Unsubscribe(h)
			total := 0
			buf := make([]byte, 32)
			for total < 1000 {
				n, err := b.Read(h, buf)
				if err != nil {
					errc <- err
					return
				}
				total += n
			}
		}(h)
	}

	go func() {
		for i := 0; i < 1000; i++ {
			b.Write([]byte{byte(i)})
		}
	}()

	wg.Wait()
	close(errc)
	for err := range errc {
		t.Fatal(err)
	}
}

func TestCloseWakesBlockedReader(t *testing.T) {
	b := New(16, 4)
	h := b.Subscribe()
	defer b.Unsubscribe(h)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 4)
		_, err := b.Read(h, buf)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader did not wake on Close")
	}
}
