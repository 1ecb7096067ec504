// Package output implements the audio output contract: device
// enumeration and a pull-callback PortAudio stream that calls back into
// the playback engine on the audio thread to fill each buffer.
//
// The stream runs in PortAudio's callback mode rather than a
// goroutine-driven blocking Write loop: the fill contract forbids
// blocking, allocating or filesystem work on the callback thread, which
// is easiest to guarantee when PortAudio invokes us directly.
package output

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/rustyguts/musicplayer/internal/mptypes"
)

// Device describes an available output device.
type Device struct {
	ID                int
	Name              string
	MaxOutputChannels int
	DefaultSampleRate float64
}

// FillFunc is called on the PortAudio callback thread to fill out with
// interleaved float32 samples for channels*frames. It must not block,
// allocate, or touch the filesystem. Implementations that need to
// communicate "nothing to play" should write silence into out.
type FillFunc func(out []float32)

// Output is the contract the playback engine drives.
type Output interface {
	EnumerateDevices() ([]Device, error)
	// Open prepares (but does not start) a stream at the given device,
	// sample rate, channel count and frames-per-callback. fill is
	// invoked from the audio thread on every callback.
	Open(deviceID int, sampleRate uint32, channels uint32, framesPerBuffer uint32, fill FillFunc) error
	Start() error
	Stop() error
	Close() error
	LatencyMs() float64
	SetVolume(v float64)
	GetVolume() float64
}

// PortAudioOutput is the production Output backed by PortAudio.
type PortAudioOutput struct {
	mu sync.Mutex

	stream     *portaudio.Stream
	fill       FillFunc
	latencySec float64

	volumeBits atomic.Uint64 // float64 bits, default 1.0
	running    atomic.Bool
}

// NewPortAudioOutput constructs an unopened output. Callers must have
// already called portaudio.Initialize (done once at process startup,
// paired with Terminate at exit).
func NewPortAudioOutput() *PortAudioOutput {
	o := &PortAudioOutput{}
	o.volumeBits.Store(math.Float64bits(1.0))
	return o
}

func (o *PortAudioOutput) EnumerateDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, mptypes.Error.Err()
	}
	var out []Device
	for i, d := range devices {
		if d.MaxOutputChannels <= 0 {
			continue
		}
		out = append(out, Device{
			ID:                i,
			Name:              d.Name,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return out, nil
}

func resolveOutputDevice(devices []*portaudio.DeviceInfo, idx int) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return portaudio.DefaultOutputDevice()
}

func (o *PortAudioOutput) Open(deviceID int, sampleRate uint32, channels uint32, framesPerBuffer uint32, fill FillFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream != nil {
		return mptypes.AlreadyInitialized.Err()
	}
	if fill == nil {
		return mptypes.InvalidParameter.Err()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return mptypes.Error.Err()
	}
	dev, err := resolveOutputDevice(devices, deviceID)
	if err != nil {
		return mptypes.Error.Err()
	}

	o.fill = fill
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: int(channels),
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: int(framesPerBuffer),
	}
	o.latencySec = dev.DefaultLowOutputLatency.Seconds()

	stream, err := portaudio.OpenStream(params, o.callback)
	if err != nil {
		return mptypes.Error.Err()
	}
	o.stream = stream
	return nil
}

// callback is invoked by PortAudio on the audio thread. It applies the
// current output volume after the engine-supplied fill runs: volume
// lands after mixing, before the hardware write.
func (o *PortAudioOutput) callback(out []float32) {
	o.fill(out)
	vol := float32(math.Float64frombits(o.volumeBits.Load()))
	if vol == 1.0 {
		return
	}
	for i := range out {
		out[i] *= vol
	}
}

func (o *PortAudioOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return mptypes.NotInitialized.Err()
	}
	if o.running.Load() {
		return nil
	}
	if err := o.stream.Start(); err != nil {
		return mptypes.Error.Err()
	}
	o.running.Store(true)
	return nil
}

// Stop halts the stream. PortAudio's Stop waits for in-flight callbacks
// to finish before returning, so after Stop no callback is running.
func (o *PortAudioOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running.CompareAndSwap(true, false) {
		return nil
	}
	if o.stream == nil {
		return nil
	}
	if err := o.stream.Stop(); err != nil {
		return mptypes.Error.Err()
	}
	return nil
}

func (o *PortAudioOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return nil
	}
	err := o.stream.Close()
	o.stream = nil
	if err != nil {
		return mptypes.Error.Err()
	}
	return nil
}

func (o *PortAudioOutput) LatencyMs() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latencySec * 1000.0
}

func (o *PortAudioOutput) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 2.0 {
		v = 2.0
	}
	o.volumeBits.Store(math.Float64bits(v))
}

func (o *PortAudioOutput) GetVolume() float64 {
	return math.Float64frombits(o.volumeBits.Load())
}

// ErrNoDevice is returned by callers that resolve a device list
// themselves and find no usable output device.
var ErrNoDevice = errors.New("no output device available")
