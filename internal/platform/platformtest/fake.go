// Package platformtest provides an in-memory audio backend for tests.
package platformtest

import (
	"errors"
	"sync"
	"time"

	"github.com/skypro1111/audiologger/internal/clock"
	"github.com/skypro1111/audiologger/internal/platform"
)

// Step is one scripted result of CaptureClient.NextPacket
type Step struct {
	Packet platform.Packet
	Err    error
	// Before runs just before the step is returned
	Before func()
}

// Backend is a scripted platform.Backend. Packets queued with Queue are handed
// out in order across device reopens; once the queue is empty every poll
// returns a zero-frame packet
type Backend struct {
	Clock clock.Clock

	mu            sync.Mutex
	devices       []*Device
	defaultID     string
	enumeratorErr error
	steps         []Step

	// Recorded activity
	opens       int
	initialized []platform.Format
	flags       []platform.StreamFlags
	released    []uint32
	started     int
	stopped     int
	threadInits int
	polled      chan struct{}
}

// NewBackend creates a backend using c for timestamps
func NewBackend(c clock.Clock) *Backend {
	if c == nil {
		c = clock.NewManual(0)
	}
	return &Backend{Clock: c, polled: make(chan struct{}, 1)}
}

// Device is a fake endpoint
type Device struct {
	Id          string
	Name        string
	DeviceState platform.DeviceState
	Flow        platform.DataFlow
	Mix         platform.Format
	ActivateErr error
	InitErr     error

	backend *Backend
}

// AddDevice registers a render endpoint and returns it for further tweaking
func (b *Backend) AddDevice(id, name string, mix platform.Format) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &Device{
		Id:          id,
		Name:        name,
		DeviceState: platform.DeviceStateActive,
		Flow:        platform.DataFlowRender,
		Mix:         mix,
		backend:     b,
	}
	b.devices = append(b.devices, d)
	if b.defaultID == "" {
		b.defaultID = id
	}
	return d
}

// SetDefault selects the default render endpoint
func (b *Backend) SetDefault(id string) {
	b.mu.Lock()
	b.defaultID = id
	b.mu.Unlock()
}

// SetEnumeratorError makes Enumerator fail with err
func (b *Backend) SetEnumeratorError(err error) {
	b.mu.Lock()
	b.enumeratorErr = err
	b.mu.Unlock()
}

// Queue appends scripted capture results
func (b *Backend) Queue(steps ...Step) {
	b.mu.Lock()
	b.steps = append(b.steps, steps...)
	b.mu.Unlock()
}

// Pending returns the number of scripted steps not consumed yet
func (b *Backend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.steps)
}

// Polled is signalled, without blocking, every time the queue is found empty
func (b *Backend) Polled() <-chan struct{} {
	return b.polled
}

// Opens returns how many audio clients were activated
func (b *Backend) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// Initialized returns the formats passed to AudioClient.Initialize
func (b *Backend) Initialized() []platform.Format {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]platform.Format(nil), b.initialized...)
}

// Flags returns the stream flags passed to AudioClient.Initialize
func (b *Backend) Flags() []platform.StreamFlags {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]platform.StreamFlags(nil), b.flags...)
}

// Released returns the frame counts passed to ReleaseBuffer
func (b *Backend) Released() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint32(nil), b.released...)
}

// Started returns how many times a stream was started and stopped
func (b *Backend) Started() (started, stopped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started, b.stopped
}

// ThreadInits returns how many times InitThread was called
func (b *Backend) ThreadInits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threadInits
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) Now() time.Duration { return b.Clock.Now() }

func (b *Backend) InitThread() (func(), error) {
	b.mu.Lock()
	b.threadInits++
	b.mu.Unlock()
	return func() {}, nil
}

func (b *Backend) Enumerator() (platform.Enumerator, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enumeratorErr != nil {
		return nil, b.enumeratorErr
	}
	return &enumerator{b: b}, nil
}

type enumerator struct {
	b *Backend
}

func (e *enumerator) Device(id string) (platform.Device, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	for _, d := range e.b.devices {
		if d.Id == id {
			return d, nil
		}
	}
	return nil, platform.ErrDeviceNotFound
}

func (e *enumerator) DefaultRenderDevice() (platform.Device, error) {
	e.b.mu.Lock()
	id := e.b.defaultID
	e.b.mu.Unlock()
	if id == "" {
		return nil, platform.ErrDeviceNotFound
	}
	return e.Device(id)
}

func (e *enumerator) RenderDevices(state platform.DeviceState) ([]platform.Device, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	var out []platform.Device
	for _, d := range e.b.devices {
		if d.Flow == platform.DataFlowRender && d.DeviceState&state != 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

func (e *enumerator) Release() {}

func (d *Device) ID() string { return d.Id }

func (d *Device) FriendlyName() (string, error) { return d.Name, nil }

func (d *Device) State() (platform.DeviceState, error) { return d.DeviceState, nil }

func (d *Device) DataFlow() (platform.DataFlow, error) { return d.Flow, nil }

func (d *Device) Activate() (platform.AudioClient, error) {
	if d.ActivateErr != nil {
		return nil, d.ActivateErr
	}
	d.backend.mu.Lock()
	d.backend.opens++
	d.backend.mu.Unlock()
	return &audioClient{d: d}, nil
}

func (d *Device) Release() {}

type audioClient struct {
	d           *Device
	initialized bool
}

func (c *audioClient) MixFormat() (platform.Format, error) {
	return c.d.Mix, nil
}

func (c *audioClient) Initialize(mode platform.ShareMode, flags platform.StreamFlags, bufferDuration time.Duration, format platform.Format) error {
	if c.d.InitErr != nil {
		return c.d.InitErr
	}
	if mode != platform.ShareModeShared {
		return errors.New("fake backend only supports shared mode")
	}
	b := c.d.backend
	b.mu.Lock()
	b.initialized = append(b.initialized, format)
	b.flags = append(b.flags, flags)
	b.mu.Unlock()
	c.initialized = true
	return nil
}

func (c *audioClient) CaptureClient() (platform.CaptureClient, error) {
	if !c.initialized {
		return nil, errors.New("audio client not initialized")
	}
	return &captureClient{b: c.d.backend}, nil
}

func (c *audioClient) Start() error {
	c.d.backend.mu.Lock()
	c.d.backend.started++
	c.d.backend.mu.Unlock()
	return nil
}

func (c *audioClient) Stop() error {
	c.d.backend.mu.Lock()
	c.d.backend.stopped++
	c.d.backend.mu.Unlock()
	return nil
}

func (c *audioClient) Release() {}

type captureClient struct {
	b *Backend
}

func (c *captureClient) NextPacket() (platform.Packet, error) {
	c.b.mu.Lock()
	if len(c.b.steps) == 0 {
		c.b.mu.Unlock()
		select {
		case c.b.polled <- struct{}{}:
		default:
		}
		return platform.Packet{}, nil
	}
	step := c.b.steps[0]
	c.b.steps = c.b.steps[1:]
	c.b.mu.Unlock()

	if step.Before != nil {
		step.Before()
	}
	return step.Packet, step.Err
}

func (c *captureClient) ReleaseBuffer(frames uint32) error {
	c.b.mu.Lock()
	c.b.released = append(c.b.released, frames)
	c.b.mu.Unlock()
	return nil
}

func (c *captureClient) Release() {}
