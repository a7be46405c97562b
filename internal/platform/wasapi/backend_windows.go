//go:build windows

package wasapi

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"
	"golang.org/x/sys/windows"

	"github.com/skypro1111/audiologger/internal/platform"
)

const (
	// 100ns units
	nsPerRefTime = 100

	audclntSBufferEmpty = 0x08890001
)

var (
	kernel32                      = windows.NewLazySystemDLL("kernel32.dll")
	procQueryPerformanceCounter   = kernel32.NewProc("QueryPerformanceCounter")
	procQueryPerformanceFrequency = kernel32.NewProc("QueryPerformanceFrequency")
)

// Backend captures through WASAPI. Its clock is the performance counter, which
// is also the base of the timestamps reported with captured packets
type Backend struct {
	qpcFrequency int64
}

// New creates the WASAPI backend
func New() (*Backend, error) {
	var freq int64
	if r, _, err := procQueryPerformanceFrequency.Call(uintptr(unsafe.Pointer(&freq))); r == 0 {
		return nil, fmt.Errorf("failed to query performance frequency: %w", err)
	}
	if freq <= 0 {
		return nil, fmt.Errorf("invalid performance frequency: %d", freq)
	}
	return &Backend{qpcFrequency: freq}, nil
}

func (b *Backend) Name() string { return "wasapi" }

// Now returns the performance counter converted to a duration
func (b *Backend) Now() time.Duration {
	var counter int64
	procQueryPerformanceCounter.Call(uintptr(unsafe.Pointer(&counter)))
	sec := counter / b.qpcFrequency
	rem := counter % b.qpcFrequency
	return time.Duration(sec)*time.Second + time.Duration(rem*int64(time.Second)/b.qpcFrequency)
}

// InitThread initializes COM on the calling thread, which must stay locked to
// its goroutine until the returned function is called
func (b *Backend) InitThread() (func(), error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		var oleErr *ole.OleError
		// S_FALSE: already initialized on this thread
		if !errors.As(err, &oleErr) || oleErr.Code() != 1 {
			return nil, fmt.Errorf("failed to initialize COM: %w", err)
		}
	}
	return ole.CoUninitialize, nil
}

func (b *Backend) Enumerator() (platform.Enumerator, error) {
	var mmde *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &mmde); err != nil {
		return nil, deviceError("CoCreateInstance", err)
	}
	return &enumerator{mmde: mmde}, nil
}

type enumerator struct {
	mmde *wca.IMMDeviceEnumerator
}

func (e *enumerator) Device(id string) (platform.Device, error) {
	var mmd *wca.IMMDevice
	if err := e.mmde.GetDevice(id, &mmd); err != nil {
		return nil, deviceError("GetDevice", err)
	}
	flow := platform.DataFlowCapture
	if ok, err := e.isRender(id); err != nil {
		mmd.Release()
		return nil, err
	} else if ok {
		flow = platform.DataFlowRender
	}
	return &device{mmd: mmd, id: id, flow: flow}, nil
}

// isRender reports whether id names a render endpoint in any state
func (e *enumerator) isRender(id string) (bool, error) {
	devices, err := e.RenderDevices(platform.DeviceStateAll)
	if err != nil {
		return false, err
	}
	found := false
	for _, d := range devices {
		if d.ID() == id {
			found = true
		}
		d.Release()
	}
	return found, nil
}

func (e *enumerator) DefaultRenderDevice() (platform.Device, error) {
	var mmd *wca.IMMDevice
	if err := e.mmde.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &mmd); err != nil {
		return nil, deviceError("GetDefaultAudioEndpoint", err)
	}
	return newDevice(mmd, platform.DataFlowRender)
}

func (e *enumerator) RenderDevices(state platform.DeviceState) ([]platform.Device, error) {
	var dc *wca.IMMDeviceCollection
	if err := e.mmde.EnumAudioEndpoints(wca.ERender, uint32(state), &dc); err != nil {
		return nil, deviceError("EnumAudioEndpoints", err)
	}
	defer dc.Release()

	var count uint32
	if err := dc.GetCount(&count); err != nil {
		return nil, deviceError("GetCount", err)
	}
	devices := make([]platform.Device, 0, count)
	for i := uint32(0); i < count; i++ {
		var mmd *wca.IMMDevice
		if err := dc.Item(i, &mmd); err != nil {
			releaseAll(devices)
			return nil, deviceError("Item", err)
		}
		d, err := newDevice(mmd, platform.DataFlowRender)
		if err != nil {
			releaseAll(devices)
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func (e *enumerator) Release() {
	e.mmde.Release()
}

func releaseAll(devices []platform.Device) {
	for _, d := range devices {
		d.Release()
	}
}

type device struct {
	mmd  *wca.IMMDevice
	id   string
	flow platform.DataFlow
}

func newDevice(mmd *wca.IMMDevice, flow platform.DataFlow) (*device, error) {
	var id string
	if err := mmd.GetId(&id); err != nil {
		mmd.Release()
		return nil, deviceError("GetId", err)
	}
	return &device{mmd: mmd, id: id, flow: flow}, nil
}

func (d *device) ID() string { return d.id }

func (d *device) FriendlyName() (string, error) {
	var ps *wca.IPropertyStore
	if err := d.mmd.OpenPropertyStore(wca.STGM_READ, &ps); err != nil {
		return "", deviceError("OpenPropertyStore", err)
	}
	defer ps.Release()

	var pv wca.PROPVARIANT
	if err := ps.GetValue(&wca.PKEY_Device_FriendlyName, &pv); err != nil {
		return "", deviceError("GetValue", err)
	}
	return pv.String(), nil
}

func (d *device) State() (platform.DeviceState, error) {
	var state uint32
	if err := d.mmd.GetState(&state); err != nil {
		return 0, deviceError("GetState", err)
	}
	return platform.DeviceState(state), nil
}

func (d *device) DataFlow() (platform.DataFlow, error) {
	return d.flow, nil
}

func (d *device) Activate() (platform.AudioClient, error) {
	var ac *wca.IAudioClient
	if err := d.mmd.Activate(wca.IID_IAudioClient, wca.CLSCTX_ALL, nil, &ac); err != nil {
		return nil, deviceError("Activate", err)
	}
	return &audioClient{ac: ac}, nil
}

func (d *device) Release() {
	d.mmd.Release()
}

type audioClient struct {
	ac         *wca.IAudioClient
	blockAlign int
}

func (c *audioClient) MixFormat() (platform.Format, error) {
	var wfx *wca.WAVEFORMATEX
	if err := c.ac.GetMixFormat(&wfx); err != nil {
		return platform.Format{}, deviceError("GetMixFormat", err)
	}
	defer ole.CoTaskMemFree(uintptr(unsafe.Pointer(wfx)))
	return platform.Format{
		Tag:            wfx.WFormatTag,
		Channels:       wfx.NChannels,
		SampleRate:     wfx.NSamplesPerSec,
		AvgBytesPerSec: wfx.NAvgBytesPerSec,
		BlockAlign:     wfx.NBlockAlign,
		BitsPerSample:  wfx.WBitsPerSample,
	}, nil
}

func (c *audioClient) Initialize(mode platform.ShareMode, flags platform.StreamFlags, bufferDuration time.Duration, f platform.Format) error {
	wfx := &wca.WAVEFORMATEX{
		WFormatTag:      f.Tag,
		NChannels:       f.Channels,
		NSamplesPerSec:  f.SampleRate,
		NAvgBytesPerSec: f.AvgBytesPerSec,
		NBlockAlign:     f.BlockAlign,
		WBitsPerSample:  f.BitsPerSample,
	}
	hns := wca.REFERENCE_TIME(bufferDuration / nsPerRefTime)
	if err := c.ac.Initialize(uint32(mode), uint32(flags), hns, 0, wfx, nil); err != nil {
		return deviceError("Initialize", err)
	}
	c.blockAlign = int(f.BlockAlign)
	return nil
}

func (c *audioClient) CaptureClient() (platform.CaptureClient, error) {
	var acc *wca.IAudioCaptureClient
	if err := c.ac.GetService(wca.IID_IAudioCaptureClient, &acc); err != nil {
		return nil, deviceError("GetService", err)
	}
	return &captureClient{acc: acc, blockAlign: c.blockAlign}, nil
}

func (c *audioClient) Start() error {
	if err := c.ac.Start(); err != nil {
		return deviceError("Start", err)
	}
	return nil
}

func (c *audioClient) Stop() error {
	if err := c.ac.Stop(); err != nil {
		return deviceError("Stop", err)
	}
	return nil
}

func (c *audioClient) Release() {
	c.ac.Release()
}

type captureClient struct {
	acc        *wca.IAudioCaptureClient
	blockAlign int
}

func (c *captureClient) NextPacket() (platform.Packet, error) {
	var (
		data   *byte
		frames uint32
		flags  uint32
		devPos uint64
		qpcPos uint64
	)
	if err := c.acc.GetBuffer(&data, &frames, &flags, &devPos, &qpcPos); err != nil {
		if oleCode(err) == audclntSBufferEmpty {
			return platform.Packet{}, nil
		}
		return platform.Packet{}, deviceError("GetBuffer", err)
	}

	p := platform.Packet{
		Frames:         frames,
		Flags:          platform.BufferFlags(flags),
		DevicePosition: devPos,
		Timestamp:      time.Duration(qpcPos) * nsPerRefTime,
	}
	if frames > 0 && data != nil {
		p.Data = make([]byte, int(frames)*c.blockAlign)
		copy(p.Data, unsafe.Slice(data, len(p.Data)))
	}
	return p, nil
}

func (c *captureClient) ReleaseBuffer(frames uint32) error {
	if err := c.acc.ReleaseBuffer(frames); err != nil {
		return deviceError("ReleaseBuffer", err)
	}
	return nil
}

func (c *captureClient) Release() {
	c.acc.Release()
}

func oleCode(err error) uint32 {
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) {
		return uint32(oleErr.Code())
	}
	return 0
}

// deviceError marks every COM failure as a device fault
func deviceError(op string, err error) error {
	return platform.NewDeviceError(op, oleCode(err), err)
}
