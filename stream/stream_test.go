package stream_test

import (
	"testing"
	"time"

	"hypermesh/stream"
)

// TestBufferedAsyncStreamNoLoss is spec §8 scenario 6: a
// BufferingAsyncStreamSource with maxBufferSize=2, three items
// ingested, then a consumer snapshots the last two and receives them
// in order; a further Next with a short timeout rejects with timeout.
func TestBufferedAsyncStreamNoLoss(t *testing.T) {
	src := stream.NewBufferingAsyncStreamSource(2)
	src.Ingest(1)
	src.Ingest(2)
	src.Ingest(3)

	consumer := stream.NewBufferedAsyncStream(src)
	defer consumer.Close()

	if got := consumer.CountAvailableItems(); got != 2 {
		t.Fatalf("CountAvailableItems() = %d, want 2", got)
	}

	first, err := consumer.Next(0)
	if err != nil || first != 2 {
		t.Fatalf("Next() = %v, %v, want 2, nil", first, err)
	}
	second, err := consumer.Next(0)
	if err != nil || second != 3 {
		t.Fatalf("Next() = %v, %v, want 3, nil", second, err)
	}

	_, err = consumer.Next(50 * time.Millisecond)
	if err != stream.ErrTimeout {
		t.Fatalf("Next() err = %v, want ErrTimeout", err)
	}
}

// TestLateJoinerSeesFutureItems covers the late-joining half of
// invariant 9: a consumer constructed after an item has already been
// ingested sees that buffered item and every item ingested from then
// on.
func TestLateJoinerSeesFutureItems(t *testing.T) {
	src := stream.NewBufferingAsyncStreamSource(10)
	src.Ingest("a")

	consumer := stream.NewBufferedAsyncStream(src)
	defer consumer.Close()

	go func() {
		src.Ingest("b")
		src.Ingest("c")
	}()

	for _, want := range []string{"a", "b", "c"} {
		got, err := consumer.Next(time.Second)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if got != want {
			t.Fatalf("Next() = %v, want %v", got, want)
		}
	}
}

// TestEndRejectsFurtherNext covers the End()/ErrEnd half of spec §7.
func TestEndRejectsFurtherNext(t *testing.T) {
	src := stream.NewBufferingAsyncStreamSource(4)
	src.Ingest(1)
	consumer := stream.NewBufferedAsyncStream(src)
	defer consumer.Close()

	if _, err := consumer.Next(0); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	src.End()

	if _, err := consumer.Next(time.Second); err != stream.ErrEnd {
		t.Fatalf("Next() err = %v, want ErrEnd", err)
	}
	if !consumer.AtEnd() {
		t.Fatal("AtEnd() = false after End() drained")
	}
}

// TestFilteredAsyncStreamSource covers the predicate-forwarding source.
func TestFilteredAsyncStreamSource(t *testing.T) {
	src := stream.NewBufferingAsyncStreamSource(10)
	src.Ingest(1)
	src.Ingest(2)

	evens := stream.NewFilteredAsyncStreamSource(src, func(v any) bool { return v.(int)%2 == 0 })
	consumer := stream.NewBufferedAsyncStream(evens)
	defer consumer.Close()

	if got := consumer.CountAvailableItems(); got != 1 {
		t.Fatalf("CountAvailableItems() = %d, want 1", got)
	}
	if got, err := consumer.Next(0); err != nil || got != 2 {
		t.Fatalf("Next() = %v, %v, want 2, nil", got, err)
	}

	go func() {
		src.Ingest(3)
		src.Ingest(4)
	}()
	got, err := consumer.Next(time.Second)
	if err != nil || got != 4 {
		t.Fatalf("Next() = %v, %v, want 4, nil", got, err)
	}
}
