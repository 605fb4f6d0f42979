package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// BlobUploader is the external file-storage target that receives finalized
// recording blobs.
type BlobUploader interface {
	Upload(ctx context.Context, roomID string, blob []byte) error
}

// Recorder captures the composed local stream into timestamped chunks and
// finalizes them into a single blob on stop. The blob layout is opaque to
// everything downstream.
type Recorder struct {
	roomID   string
	uploader BlobUploader

	mu      sync.Mutex
	chunks  []recordedChunk
	stopped bool
	started time.Time
}

type recordedChunk struct {
	kind     webrtc.RTPCodecType
	offset   time.Duration
	duration time.Duration
	data     []byte
}

func NewRecorder(roomID string, uploader BlobUploader) *Recorder {
	return &Recorder{
		roomID:   roomID,
		uploader: uploader,
		started:  time.Now(),
	}
}

// WriteSample appends one captured sample. Samples arriving after Stop are
// dropped.
func (r *Recorder) WriteSample(kind webrtc.RTPCodecType, sample pionmedia.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	data := make([]byte, len(sample.Data))
	copy(data, sample.Data)

	r.chunks = append(r.chunks, recordedChunk{
		kind:     kind,
		offset:   time.Since(r.started),
		duration: sample.Duration,
		data:     data,
	})
}

// Stop finalizes all chunks into one blob and hands it to the upload
// target. Idempotent; the second call is a no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	chunks := r.chunks
	r.chunks = nil
	r.mu.Unlock()

	blob := encodeChunks(chunks)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.uploader.Upload(ctx, r.roomID, blob); err != nil {
		return fmt.Errorf("upload recording: %w", err)
	}

	return nil
}

// encodeChunks concatenates chunks with a fixed-size header each:
// kind (1B), offset ns (8B), duration ns (8B), payload length (4B).
func encodeChunks(chunks []recordedChunk) []byte {
	var buf bytes.Buffer

	for _, chunk := range chunks {
		buf.WriteByte(byte(chunk.kind))
		binary.Write(&buf, binary.BigEndian, chunk.offset.Nanoseconds())
		binary.Write(&buf, binary.BigEndian, chunk.duration.Nanoseconds())
		binary.Write(&buf, binary.BigEndian, uint32(len(chunk.data)))
		buf.Write(chunk.data)
	}

	return buf.Bytes()
}

// FileUploader lands blobs in a directory, one file per stop.
type FileUploader struct {
	Dir string
}

func (u *FileUploader) Upload(ctx context.Context, roomID string, blob []byte) error {
	if err := os.MkdirAll(u.Dir, 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}

	name := fmt.Sprintf("%s-%d.rec", roomID, time.Now().UnixMilli())

	if err := os.WriteFile(filepath.Join(u.Dir, name), blob, 0o644); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}

	return nil
}
