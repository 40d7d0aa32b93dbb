package stream

import (
	"bytes"
	"context"
	"testing"
	"time"

	"soundscape/core/audio"
)

func recv(t *testing.T, l *Listener) []int16 {
	t.Helper()
	select {
	case f := <-l.C:
		return f
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
		return nil
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster(0)
	l1 := b.Subscribe()
	l2 := b.Subscribe()
	if b.ListenerCount() != 2 {
		t.Errorf("ListenerCount = %d, want 2", b.ListenerCount())
	}

	b.Unsubscribe(l1)
	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("ListenerCount = %d, want 1", b.ListenerCount())
	}
	select {
	case <-l1.Done():
	default:
		t.Error("unsubscribed listener not done")
	}
	b.Unsubscribe(l2)
	if cap(l2.C) != DefaultListenerBuffer {
		t.Errorf("buffer = %d, want %d", cap(l2.C), DefaultListenerBuffer)
	}
}

func TestBroadcastFanOut(t *testing.T) {
	b := NewBroadcaster(4)
	ls := []*Listener{b.Subscribe(), b.Subscribe(), b.Subscribe()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := make(chan []int16, 1)
	go b.Run(ctx, frames)

	frames <- []int16{7, -7}
	for i, l := range ls {
		if got := recv(t, l); got[0] != 7 || got[1] != -7 {
			t.Errorf("listener %d got %v", i, got)
		}
	}
}

func TestSlowListenerDropsFrames(t *testing.T) {
	b := NewBroadcaster(2)
	slow := b.Subscribe()
	fast := b.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := make(chan []int16)
	go b.Run(ctx, frames)

	for i := 0; i < 6; i++ {
		frames <- []int16{int16(i)}
		recv(t, fast)
	}
	deadline := time.Now().Add(time.Second)
	for slow.Dropped() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(slow.C) != 2 {
		t.Errorf("slow listener holds %d frames, want 2", len(slow.C))
	}
	if slow.Dropped() != 4 {
		t.Errorf("Dropped = %d, want 4", slow.Dropped())
	}
	if fast.Dropped() != 0 {
		t.Errorf("fast Dropped = %d, want 0", fast.Dropped())
	}
}

func TestRunEndsListenersWhenSourceCloses(t *testing.T) {
	b := NewBroadcaster(0)
	l := b.Subscribe()
	frames := make(chan []int16)
	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), frames)
		close(done)
	}()

	close(frames)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after source closed")
	}
	select {
	case <-l.Done():
	default:
		t.Error("listener not ended with the broadcast")
	}
	if b.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d, want 0", b.ListenerCount())
	}

	late := b.Subscribe()
	select {
	case <-late.Done():
	default:
		t.Error("listener subscribed after the end is not done")
	}
}

func TestPumpPCM(t *testing.T) {
	b := NewBroadcaster(4)
	l := b.Subscribe()
	l.C <- []int16{1, -1}
	l.C <- []int16{256}

	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		pumpPCM(context.Background(), l, &out)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	b.Unsubscribe(l)
	<-done

	want := append(audio.SamplesToBytes([]int16{1, -1}), audio.SamplesToBytes([]int16{256})...)
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("pumped %v, want %v", out.Bytes(), want)
	}
}
