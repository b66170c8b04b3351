package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/youpy/go-wav"
)

// WAVBackend captures from a WAV file and plays back into one. Capture is paced at real time so the
// peer receives audio at the rate a microphone would produce it.
type WAVBackend struct {
	capturePath  string
	playbackPath string
	loop         bool
	log          *logrus.Entry
}

// NewWAVBackend creates a file backed audio backend. Either path may be empty: an empty capture path
// produces silence and an empty playback path discards audio.
func NewWAVBackend(capturePath, playbackPath string, loop bool, log *logrus.Entry) *WAVBackend {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WAVBackend{capturePath: capturePath, playbackPath: playbackPath, loop: loop, log: log}
}

func (b *WAVBackend) MinBufferSize() int { return ChunkSize }

func (b *WAVBackend) Close() error { return nil }

func (b *WAVBackend) OpenCapture(bufferSize int) (Capture, error) {
	c := &wavCapture{loop: b.loop, closed: make(chan struct{})}
	if b.capturePath == "" {
		return c, nil
	}
	f, err := os.Open(b.capturePath)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if err := checkFormat(format); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", b.capturePath, err)
	}
	c.file = f
	c.reader = r
	return c, nil
}

func (b *WAVBackend) OpenPlayback(bufferSize int) (Playback, error) {
	p := &wavPlayback{path: b.playbackPath}
	if b.playbackPath != "" {
		// fail now rather than on close if the destination is not writable
		f, err := os.Create(b.playbackPath)
		if err != nil {
			return nil, fmt.Errorf("create playback file: %w", err)
		}
		p.file = f
	}
	return p, nil
}

func checkFormat(f *wav.WavFormat) error {
	if f.AudioFormat != wav.AudioFormatPCM || f.NumChannels != Channels ||
		f.SampleRate != SampleRate || f.BitsPerSample != BitsPerSample {
		return fmt.Errorf("unsupported wav format %d Hz %d ch %d bit, want %d Hz mono %d bit PCM",
			f.SampleRate, f.NumChannels, f.BitsPerSample, SampleRate, BitsPerSample)
	}
	return nil
}

type wavCapture struct {
	file   *os.File
	reader *wav.Reader
	loop   bool

	started   bool
	next      time.Time
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *wavCapture) Start() error {
	c.started = true
	c.next = time.Now()
	return nil
}

// Read returns at most one chunk, no earlier than the wall clock time at which a live device would
// have captured it. Once the file is exhausted it returns silence unless looping.
func (c *wavCapture) Read(p []byte) (int, error) {
	if !c.started {
		return 0, errors.New("capture not started")
	}
	if len(p) > ChunkSize {
		p = p[:ChunkSize]
	}
	n, err := c.fill(p)
	if err != nil {
		return 0, err
	}
	c.next = c.next.Add(Duration(n))
	t := time.NewTimer(time.Until(c.next))
	defer t.Stop()
	select {
	case <-t.C:
		return n, nil
	case <-c.closed:
		return 0, ErrClosed
	}
}

func (c *wavCapture) fill(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, ErrClosed
	default:
	}
	if c.reader == nil {
		clear(p)
		return len(p), nil
	}
	n, err := c.reader.Read(p)
	if err == io.EOF || (err == nil && n == 0) {
		if !c.loop {
			c.reader = nil
			clear(p)
			return len(p), nil
		}
		if _, err := c.file.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("rewind capture file: %w", err)
		}
		c.reader = wav.NewReader(c.file)
		n, err = c.reader.Read(p)
		if n == 0 && (err == nil || err == io.EOF) {
			// empty data chunk, nothing to loop over
			c.reader = nil
			clear(p)
			return len(p), nil
		}
	}
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("read capture file: %w", err)
	}
	return n, nil
}

func (c *wavCapture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.file != nil {
			err = c.file.Close()
		}
	})
	return err
}

type wavPlayback struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	data   bytes.Buffer
	closed bool
}

func (p *wavPlayback) Start() error { return nil }

func (p *wavPlayback) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if p.file == nil {
		return len(b), nil
	}
	return p.data.Write(b)
}

// Close writes the received audio out as a WAV file.
func (p *wavPlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.file == nil {
		return nil
	}
	defer p.file.Close()

	samples := p.data.Len() / BytesPerSample
	w := wav.NewWriter(p.file, uint32(samples), Channels, SampleRate, BitsPerSample)
	if _, err := w.Write(p.data.Bytes()[:samples*BytesPerSample]); err != nil {
		return fmt.Errorf("write %s: %w", p.path, err)
	}
	return nil
}
