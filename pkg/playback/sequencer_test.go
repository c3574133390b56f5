package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/auriskit/auris/pkg/media"
)

func chunk(index int, text string) media.AudioChunk {
	return media.AudioChunk{SessionID: "s1", Index: index, Text: text, Audio: []byte(text)}
}

func TestQueuePlaysInEnqueueOrder(t *testing.T) {
	var mu sync.Mutex
	var played []int
	doneCh := make(chan struct{}, 8)

	q := NewQueue(func(_ context.Context, c media.AudioChunk) error {
		mu.Lock()
		played = append(played, c.Index)
		mu.Unlock()
		return nil
	}, nil)
	defer q.Close()
	q.SetCallbacks(Callbacks{OnChunkEnd: func(string, int) { doneCh <- struct{}{} }})

	for i := 0; i < 3; i++ {
		q.Enqueue(chunk(i, "chunk"))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-doneCh:
		case <-time.After(time.Second):
			t.Fatal("chunk never finished")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(played) != 3 || played[0] != 0 || played[1] != 1 || played[2] != 2 {
		t.Fatalf("played order %v", played)
	}
}

func TestStopDropsQueueAndCancelsCurrent(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	finished := 0

	q := NewQueue(func(ctx context.Context, c media.AudioChunk) error {
		started <- struct{}{}
		select {
		case <-block:
			mu.Lock()
			finished++
			mu.Unlock()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil)
	defer q.Close()

	for i := 0; i < 3; i++ {
		q.Enqueue(chunk(i, "chunk"))
	}
	<-started

	q.Stop()
	close(block)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	if finished != 0 {
		mu.Unlock()
		t.Fatal("playback completed despite Stop")
	}
	mu.Unlock()
	if q.QueueLen() != 0 {
		t.Fatalf("QueueLen = %d after Stop", q.QueueLen())
	}

	// Stopped queue refuses new work until Resume.
	q.Enqueue(chunk(3, "late"))
	if q.QueueLen() != 0 {
		t.Fatal("enqueue accepted while stopped")
	}
	q.Resume()
	done := make(chan struct{}, 1)
	q.SetCallbacks(Callbacks{OnChunkEnd: func(string, int) { done <- struct{}{} }})
	q.Enqueue(chunk(4, "after resume"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue did not play after Resume")
	}
}

func TestCallbacksCarrySessionAndIndex(t *testing.T) {
	type event struct {
		session string
		index   int
	}
	starts := make(chan event, 1)
	ends := make(chan event, 1)
	q := NewQueue(nil, nil)
	defer q.Close()
	q.SetCallbacks(Callbacks{
		OnChunkStart: func(s string, i int) { starts <- event{s, i} },
		OnChunkEnd:   func(s string, i int) { ends <- event{s, i} },
	})

	q.Enqueue(media.AudioChunk{SessionID: "abc", Index: 7})
	select {
	case ev := <-starts:
		if ev.session != "abc" || ev.index != 7 {
			t.Fatalf("start event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no start callback")
	}
	select {
	case ev := <-ends:
		if ev.session != "abc" || ev.index != 7 {
			t.Fatalf("end event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no end callback")
	}
}
