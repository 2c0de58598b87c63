package audio

import (
	"bytes"
	"testing"
	"time"
)

func testFrame(payload byte, size int) Frame {
	data := bytes.Repeat([]byte{payload}, size)
	return Frame{
		Data:       data,
		Timestamp:  time.UnixMicro(1700000000000000),
		SampleRate: 16000,
		Channels:   1,
	}
}

func TestFrameBinaryRoundTrip(t *testing.T) {
	in := testFrame(0xAB, 120)

	data, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Frame
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
	if out.SampleRate != in.SampleRate || out.Channels != in.Channels {
		t.Errorf("metadata = %d/%d, want %d/%d", out.SampleRate, out.Channels, in.SampleRate, in.Channels)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Error("payload corrupted in round trip")
	}
}

func TestFrameTooShort(t *testing.T) {
	var f Frame
	if err := f.UnmarshalBinary(make([]byte, 10)); err == nil {
		t.Error("short frame accepted")
	}
}

func TestFrameBufferFIFO(t *testing.T) {
	b := NewFrameBuffer(4096)

	for i := byte(0); i < 5; i++ {
		if err := b.Enqueue(testFrame(i, 32)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	for i := byte(0); i < 5; i++ {
		f, ok := b.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d: buffer empty", i)
		}
		if f.Data[0] != i {
			t.Errorf("frame %d carries payload %d", i, f.Data[0])
		}
	}
	if _, ok := b.Dequeue(); ok {
		t.Error("dequeue succeeded on drained buffer")
	}
}

func TestFrameBufferEvictsOldest(t *testing.T) {
	// room for roughly three 64-byte frames plus framing overhead
	b := NewFrameBuffer(256)

	for i := byte(0); i < 8; i++ {
		if err := b.Enqueue(testFrame(i, 64)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	f, ok := b.Dequeue()
	if !ok {
		t.Fatal("buffer empty after eviction churn")
	}
	if f.Data[0] == 0 {
		t.Error("oldest frame survived eviction")
	}

	// the newest frame must still be present
	last := f
	for {
		next, ok := b.Dequeue()
		if !ok {
			break
		}
		last = next
	}
	if last.Data[0] != 7 {
		t.Errorf("newest frame = %d, want 7", last.Data[0])
	}
}

func TestFrameBufferRejectsOversized(t *testing.T) {
	b := NewFrameBuffer(64)
	if err := b.Enqueue(testFrame(1, 128)); err == nil {
		t.Error("oversized frame accepted")
	}
}

func TestFrameBufferFlush(t *testing.T) {
	b := NewFrameBuffer(4096)
	for i := byte(0); i < 3; i++ {
		if err := b.Enqueue(testFrame(i, 16)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ch := make(chan Frame, 8)
	if err := b.Flush(ch); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var got []byte
	for f := range ch {
		got = append(got, f.Data[0])
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("flushed payloads = %v", got)
	}
	if b.Len() != 0 {
		t.Errorf("backlog = %d after flush", b.Len())
	}
}
