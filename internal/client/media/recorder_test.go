package media

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

func TestRecorderFinalizesChunksIntoOneBlob(t *testing.T) {
	uploader := newMemoryUploader()
	rec := NewRecorder("room-1", uploader)

	rec.WriteSample(webrtc.RTPCodecTypeVideo, pionmedia.Sample{
		Data:     []byte{0x01, 0x02, 0x03},
		Duration: 33 * time.Millisecond,
	})
	rec.WriteSample(webrtc.RTPCodecTypeAudio, pionmedia.Sample{
		Data:     []byte{0x04},
		Duration: 20 * time.Millisecond,
	})

	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	blob := uploader.blob("room-1")
	if len(blob) == 0 {
		t.Fatalf("no blob uploaded")
	}

	// First chunk header: kind, offset ns, duration ns, payload length.
	if webrtc.RTPCodecType(blob[0]) != webrtc.RTPCodecTypeVideo {
		t.Fatalf("first chunk kind = %d, want video", blob[0])
	}

	duration := int64(binary.BigEndian.Uint64(blob[9:17]))
	if duration != (33 * time.Millisecond).Nanoseconds() {
		t.Fatalf("first chunk duration = %d ns", duration)
	}

	length := binary.BigEndian.Uint32(blob[17:21])
	if length != 3 {
		t.Fatalf("first chunk length = %d, want 3", length)
	}

	if blob[21] != 0x01 || blob[22] != 0x02 || blob[23] != 0x03 {
		t.Fatalf("first chunk payload = % x", blob[21:24])
	}

	// Second chunk follows immediately.
	if webrtc.RTPCodecType(blob[24]) != webrtc.RTPCodecTypeAudio {
		t.Fatalf("second chunk kind = %d, want audio", blob[24])
	}
}

func TestRecorderDropsSamplesAfterStop(t *testing.T) {
	uploader := newMemoryUploader()
	rec := NewRecorder("room-1", uploader)

	rec.WriteSample(webrtc.RTPCodecTypeVideo, pionmedia.Sample{Data: []byte{1}})

	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	first := uploader.blob("room-1")

	rec.WriteSample(webrtc.RTPCodecTypeVideo, pionmedia.Sample{Data: []byte{2}})

	// Stop is idempotent and must not re-upload.
	if err := rec.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if got := uploader.blob("room-1"); len(got) != len(first) {
		t.Fatalf("blob changed after stop: %d -> %d bytes", len(first), len(got))
	}
}

func TestRecorderCopiesSampleData(t *testing.T) {
	uploader := newMemoryUploader()
	rec := NewRecorder("room-1", uploader)

	data := []byte{0xaa}
	rec.WriteSample(webrtc.RTPCodecTypeVideo, pionmedia.Sample{Data: data})
	data[0] = 0xbb

	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	blob := uploader.blob("room-1")
	if blob[len(blob)-1] != 0xaa {
		t.Fatalf("recorder aliased the caller's buffer")
	}
}

func TestFileUploaderWritesOneFilePerStop(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder("room-1", &FileUploader{Dir: dir})

	rec.WriteSample(webrtc.RTPCodecTypeVideo, pionmedia.Sample{Data: []byte{1, 2, 3}})

	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "room-1-*.rec"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}

	if len(matches) != 1 {
		t.Fatalf("recording files = %d, want 1", len(matches))
	}

	info, err := os.Stat(matches[0])
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if info.Size() == 0 {
		t.Fatalf("recording file is empty")
	}
}
