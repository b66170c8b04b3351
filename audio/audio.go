package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// PCM format shared by both peers. It is hardcoded on both sides and never negotiated.
const (
	SampleRate     = 8000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8

	// FrameSamples is one 20 ms frame.
	FrameSamples = 160
	// ChunkSize is the unit moved per I/O operation: three frames.
	ChunkSize = FrameSamples * BytesPerSample * 3
	// ChunksPerSecond is how many chunks make roughly one second of audio.
	ChunksPerSecond = SampleRate / (FrameSamples * 3)
)

var (
	ErrBackendUnavailable = errors.New("audio backend unavailable")
	ErrClosed             = errors.New("audio device closed")
)

// Capture is a recording device. Read blocks until captured samples are available.
type Capture interface {
	Start() error
	Read(p []byte) (int, error)
	Close() error
}

// Playback is an output device. Write blocks while the device buffer is full.
type Playback interface {
	Start() error
	Write(p []byte) (int, error)
	Close() error
}

// Backend opens capture and playback devices.
type Backend interface {
	// MinBufferSize is the smallest device buffer, in bytes, the backend accepts.
	MinBufferSize() int
	OpenCapture(bufferSize int) (Capture, error)
	OpenPlayback(bufferSize int) (Playback, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Backend is "device" (sound card) or "wav" (files).
	Backend      string
	CaptureFile  string
	PlaybackFile string
	LoopCapture  bool
	Logger       *logrus.Entry
}

// NewBackend creates the backend named in opts.
func NewBackend(opts Options) (Backend, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	switch opts.Backend {
	case "", "device":
		return newDeviceBackend(log)
	case "wav":
		return NewWAVBackend(opts.CaptureFile, opts.PlaybackFile, opts.LoopCapture, log), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", opts.Backend)
	}
}

// BufferSize returns the device buffer size to request from b: never smaller than one chunk.
func BufferSize(b Backend) int {
	return max(ChunkSize, b.MinBufferSize())
}

// Duration returns how long n bytes of PCM last.
func Duration(n int) time.Duration {
	return time.Duration(n/BytesPerSample) * time.Second / SampleRate
}

// Peak returns the largest absolute little-endian sample in chunk.
func Peak(chunk []byte) int16 {
	var peak int16
	for i := 0; i+1 < len(chunk); i += 2 {
		s := int16(uint16(chunk[i]) | uint16(chunk[i+1])<<8)
		if s < 0 {
			if s == -32768 {
				return 32767
			}
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
