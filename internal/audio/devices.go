package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// DeviceError reports a hardware stream that could not be opened or failed
// hard. It is fatal to the owning engine.
type DeviceError struct {
	Op     string
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("audio device: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("audio device %q: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Init initializes the PortAudio host once per process. Pair with Terminate.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return &DeviceError{Op: "initialize", Err: err}
	}
	return nil
}

// Terminate releases the PortAudio host.
func Terminate() error {
	return portaudio.Terminate()
}

// Device is a summary of one audio device, for the list-devices mode.
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// ListDevices enumerates every host device. The caller must have run Init.
func ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, &DeviceError{Op: "enumerate", Err: err}
	}

	defaultIn, _ := portaudio.DefaultInputDevice()
	defaultOut, _ := portaudio.DefaultOutputDevice()

	out := make([]Device, 0, len(devices))
	for i, dev := range devices {
		out = append(out, Device{
			Index:             i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			DefaultInput:      defaultIn != nil && dev.Name == defaultIn.Name,
			DefaultOutput:     defaultOut != nil && dev.Name == defaultOut.Name,
		})
	}
	return out, nil
}

// resolveInput finds an input device by name, or the system default when name
// is empty.
func resolveInput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, &DeviceError{Op: "default input", Err: err}
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, &DeviceError{Op: "enumerate", Err: err}
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, &DeviceError{Op: "lookup", Device: name, Err: fmt.Errorf("no such input device")}
}

func resolveOutput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, &DeviceError{Op: "default output", Err: err}
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, &DeviceError{Op: "enumerate", Err: err}
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxOutputChannels > 0 {
			return dev, nil
		}
	}
	return nil, &DeviceError{Op: "lookup", Device: name, Err: fmt.Errorf("no such output device")}
}
