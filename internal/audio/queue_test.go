package audio

import (
	"bytes"
	"sync"
	"testing"
)

func TestFrameQueue_PushPop(t *testing.T) {
	q := NewFrameQueue(0)

	q.Push([]byte{1, 2})
	q.Push([]byte{3})

	if q.Len() != 2 {
		t.Errorf("Expected 2 frames, got %d", q.Len())
	}
	if q.Bytes() != 3 {
		t.Errorf("Expected 3 bytes, got %d", q.Bytes())
	}

	frame, ok := q.Pop()
	if !ok || !bytes.Equal(frame, []byte{1, 2}) {
		t.Errorf("Expected first frame [1 2], got %v", frame)
	}

	frame, ok = q.Pop()
	if !ok || !bytes.Equal(frame, []byte{3}) {
		t.Errorf("Expected second frame [3], got %v", frame)
	}

	if _, ok := q.Pop(); ok {
		t.Error("Expected Pop on empty queue to report false")
	}
	if !q.IsEmpty() {
		t.Error("Expected queue to be empty")
	}
}

func TestFrameQueue_GrowsPreservingOrder(t *testing.T) {
	q := NewFrameQueue(minQueueCapacity)

	// Move head off zero so growth has to unwrap the ring.
	for i := 0; i < 5; i++ {
		q.Push([]byte{byte(i)})
	}
	for i := 0; i < 5; i++ {
		q.Pop()
	}

	total := minQueueCapacity*3 + 1
	for i := 0; i < total; i++ {
		q.Push([]byte{byte(i)})
	}

	if q.Len() != total {
		t.Fatalf("Expected %d frames, got %d", total, q.Len())
	}
	for i := 0; i < total; i++ {
		frame, ok := q.Pop()
		if !ok || frame[0] != byte(i) {
			t.Fatalf("Frame %d out of order: got %v", i, frame)
		}
	}
}

func TestFrameQueue_Clear(t *testing.T) {
	q := NewFrameQueue(4)
	q.Push([]byte{1})
	q.Push([]byte{2})

	q.Clear()

	if !q.IsEmpty() || q.Bytes() != 0 {
		t.Error("Expected queue to be empty after Clear")
	}

	q.Push([]byte{9})
	frame, _ := q.Pop()
	if frame[0] != 9 {
		t.Errorf("Expected queue usable after Clear, got %v", frame)
	}
}

func TestFrameQueue_Drain(t *testing.T) {
	q := NewFrameQueue(4)
	q.Push([]byte("ab"))
	q.Push([]byte("c"))
	q.Push([]byte("de"))

	out := q.Drain()
	if string(out) != "abcde" {
		t.Errorf("Expected 'abcde', got %q", out)
	}
	if !q.IsEmpty() {
		t.Error("Expected queue to be empty after Drain")
	}
}

func TestFrameQueue_Concurrent(t *testing.T) {
	q := NewFrameQueue(0)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push([]byte{1})
			}
		}()
	}
	wg.Wait()

	if q.Len() != 400 || q.Bytes() != 400 {
		t.Errorf("Expected 400 frames and bytes, got %d/%d", q.Len(), q.Bytes())
	}
}
