//go:build malgo

package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

// periodMs is the device callback period; one 20 ms frame.
const periodMs = 20

// deviceBackend drives the sound card through miniaudio.
type deviceBackend struct {
	log *logrus.Entry
	ctx *malgo.AllocatedContext
}

func newDeviceBackend(log *logrus.Entry) (Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug(strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &deviceBackend{log: log, ctx: ctx}, nil
}

// MinBufferSize covers two device periods.
func (b *deviceBackend) MinBufferSize() int {
	return 2 * periodMs * SampleRate / 1000 * BytesPerSample
}

func (b *deviceBackend) deviceConfig(kind malgo.DeviceType) malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.SampleRate = SampleRate
	cfg.PeriodSizeInMilliseconds = periodMs
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = Channels
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = Channels
	return cfg
}

func (b *deviceBackend) OpenCapture(bufferSize int) (Capture, error) {
	buf := newPCMBuffer(bufferSize)
	dev, err := malgo.InitDevice(b.ctx.Context, b.deviceConfig(malgo.Capture), malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) { buf.push(input) },
	})
	if err != nil {
		return nil, fmt.Errorf("open capture device: %w", err)
	}
	return &malgoCapture{malgoDevice: malgoDevice{dev: dev, buf: buf}}, nil
}

func (b *deviceBackend) OpenPlayback(bufferSize int) (Playback, error) {
	buf := newPCMBuffer(bufferSize)
	dev, err := malgo.InitDevice(b.ctx.Context, b.deviceConfig(malgo.Playback), malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) { buf.drain(output) },
	})
	if err != nil {
		return nil, fmt.Errorf("open playback device: %w", err)
	}
	return &malgoPlayback{malgoDevice: malgoDevice{dev: dev, buf: buf}}, nil
}

func (b *deviceBackend) Close() error {
	if err := b.ctx.Uninit(); err != nil {
		return err
	}
	b.ctx.Free()
	return nil
}

type malgoDevice struct {
	dev  *malgo.Device
	buf  *pcmBuffer
	once sync.Once
}

func (d *malgoDevice) Start() error {
	if err := d.dev.Start(); err != nil {
		return fmt.Errorf("start device: %w", err)
	}
	return nil
}

func (d *malgoDevice) Close() error {
	var err error
	d.once.Do(func() {
		d.buf.close()
		if d.dev.IsStarted() {
			err = d.dev.Stop()
		}
		d.dev.Uninit()
	})
	return err
}

type malgoCapture struct{ malgoDevice }

func (c *malgoCapture) Read(p []byte) (int, error) { return c.buf.read(p) }

type malgoPlayback struct{ malgoDevice }

func (p *malgoPlayback) Write(b []byte) (int, error) { return p.buf.write(b) }
