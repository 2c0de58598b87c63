package audio

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/smallnest/ringbuffer"
)

// Frame is one encoded audio frame with its capture metadata.
type Frame struct {
	Data       []byte
	Timestamp  time.Time
	SampleRate int32
	Channels   int16
}

// MarshalBinary lays the frame out as timestamp(8) + sampleRate(4) +
// channels(2) + data.
func (f Frame) MarshalBinary() ([]byte, error) {
	out := make([]byte, 14+len(f.Data))
	binary.LittleEndian.PutUint64(out[0:8], uint64(f.Timestamp.UnixMicro()))
	binary.LittleEndian.PutUint32(out[8:12], uint32(f.SampleRate))
	binary.LittleEndian.PutUint16(out[12:14], uint16(f.Channels))
	copy(out[14:], f.Data)
	return out, nil
}

// UnmarshalBinary reverses MarshalBinary.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < 14 {
		return errors.New("frame too short")
	}
	f.Timestamp = time.UnixMicro(int64(binary.LittleEndian.Uint64(data[0:8])))
	f.SampleRate = int32(binary.LittleEndian.Uint32(data[8:12]))
	f.Channels = int16(binary.LittleEndian.Uint16(data[12:14]))
	f.Data = make([]byte, len(data)-14)
	copy(f.Data, data[14:])
	return nil
}

// FrameBuffer queues length-prefixed frames on a non-blocking ring buffer.
// When full it drops the oldest frames so a stalled consumer never blocks
// the capture path.
type FrameBuffer struct {
	size int
	rb   *ringbuffer.RingBuffer
}

// NewFrameBuffer allocates a buffer holding up to size bytes of frames.
func NewFrameBuffer(size int) *FrameBuffer {
	return &FrameBuffer{
		size: size,
		rb:   ringbuffer.New(size).SetBlocking(false),
	}
}

func (b *FrameBuffer) Capacity() int { return b.size }

func (b *FrameBuffer) Len() int { return b.rb.Length() }

// Enqueue appends a frame, evicting the oldest frames if there is no room.
func (b *FrameBuffer) Enqueue(f Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}

	required := len(data) + 4
	if required > b.rb.Capacity() {
		return errors.New("audio frame too large for buffer")
	}

	for b.rb.Free() < required {
		if !b.dropOldest() {
			b.rb.Reset()
			break
		}
	}

	prefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(prefix, uint32(len(data)))
	if _, err := b.rb.Write(prefix); err != nil {
		return err
	}
	_, err = b.rb.Write(data)
	return err
}

// Dequeue pops the oldest frame.
func (b *FrameBuffer) Dequeue() (Frame, bool) {
	if b.rb.IsEmpty() {
		return Frame{}, false
	}

	prefix := make([]byte, 4)
	n, err := b.rb.Read(prefix)
	if err != nil || n != 4 {
		return Frame{}, false
	}
	size := int(binary.LittleEndian.Uint32(prefix))

	data := make([]byte, size)
	n, err = b.rb.Read(data)
	if err != nil || n != size {
		return Frame{}, false
	}

	var f Frame
	if err := f.UnmarshalBinary(data); err != nil {
		return Frame{}, false
	}
	return f, true
}

// Flush drains every queued frame into ch and closes it.
func (b *FrameBuffer) Flush(ch chan<- Frame) error {
	defer close(ch)
	for !b.rb.IsEmpty() {
		f, ok := b.Dequeue()
		if !ok {
			break
		}
		select {
		case ch <- f:
		default:
			return errors.New("channel blocked during flush")
		}
	}
	return nil
}

func (b *FrameBuffer) dropOldest() bool {
	if b.rb.IsEmpty() {
		return false
	}
	prefix := make([]byte, 4)
	n, err := b.rb.Read(prefix)
	if err != nil || n != 4 {
		return false
	}
	size := int(binary.LittleEndian.Uint32(prefix))
	if size > 0 {
		skip := make([]byte, size)
		n, err := b.rb.Read(skip)
		if err != nil || n != size {
			return false
		}
	}
	return true
}
