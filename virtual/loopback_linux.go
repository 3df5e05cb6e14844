package virtual

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"sort"
	"unsafe"

	"github.com/abihf/backdrop/config"
	"github.com/abihf/backdrop/errdefs"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	vidiocQueryCap = 0x80685600
	vidiocSFmt     = 0xc0d05605
	vidiocSParm    = 0xc0cc5616

	bufTypeVideoOutput = 2
	capVideoOutput     = 0x00000002
	capDeviceCaps      = 0x80000000
	fieldNone          = 1
	colorspaceSRGB     = 8

	loopbackDriver = "v4l2 loopback"
)

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format; the union is 8-byte aligned.
type v4l2Format struct {
	typ uint32
	_   uint32
	pix v4l2PixFormat
	_   [200 - 48]byte
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2OutputParm struct {
	capability   uint32
	outputmode   uint32
	timeperframe v4l2Fract
	extendedmode uint32
	writebuffers uint32
	reserved     [4]uint32
}

type v4l2StreamParm struct {
	typ  uint32
	parm v4l2OutputParm
	_    [200 - 40]byte
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func pixelFormat(format string) uint32 {
	return uint32(format[0]) | uint32(format[1])<<8 | uint32(format[2])<<16 | uint32(format[3])<<24
}

func queryCap(fd uintptr) (*v4l2Capability, error) {
	var c v4l2Capability
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&c)); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *v4l2Capability) canOutput() bool {
	caps := c.capabilities
	if caps&capDeviceCaps != 0 {
		caps = c.deviceCaps
	}
	return caps&capVideoOutput != 0
}

func (c *v4l2Capability) driverName() string {
	return string(bytes.TrimRight(c.driver[:], "\x00"))
}

// openLoopback opens path and applies format, size and frame rate, closing
// the file if any of them is refused.
func openLoopback(path string, opt *Option) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &errdefs.DeviceConfigError{Device: path, Setting: errdefs.SettingOpen, Err: err}
	}
	if err := configure(f, path, opt); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func configure(f *os.File, path string, opt *Option) error {
	fd := f.Fd()

	c, err := queryCap(fd)
	if err != nil {
		return &errdefs.DeviceConfigError{Device: path, Setting: errdefs.SettingOpen, Err: errors.Wrap(err, "VIDIOC_QUERYCAP")}
	}
	if !c.canOutput() {
		return &errdefs.DeviceConfigError{Device: path, Setting: errdefs.SettingOpen, Err: errors.New("not a video output device")}
	}

	var vf v4l2Format
	vf.typ = bufTypeVideoOutput
	vf.pix.width = uint32(opt.Width)
	vf.pix.height = uint32(opt.Height)
	vf.pix.pixelformat = pixelFormat(opt.Format)
	vf.pix.field = fieldNone
	vf.pix.sizeimage = uint32(frameSize(opt.Format, opt.Width, opt.Height))
	vf.pix.colorspace = colorspaceSRGB
	if opt.Format == config.FormatI420 {
		vf.pix.bytesperline = uint32(opt.Width)
	} else {
		vf.pix.bytesperline = uint32(opt.Width * 3)
	}
	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&vf)); err != nil {
		return &errdefs.DeviceConfigError{Device: path, Setting: errdefs.SettingFormat, Value: opt.Format, Err: errors.Wrap(err, "VIDIOC_S_FMT")}
	}
	if vf.pix.pixelformat != pixelFormat(opt.Format) {
		return &errdefs.DeviceConfigError{Device: path, Setting: errdefs.SettingFormat, Value: opt.Format, Err: errors.New("format not accepted")}
	}
	if vf.pix.width != uint32(opt.Width) {
		return &errdefs.DeviceConfigError{Device: path, Setting: errdefs.SettingWidth, Value: opt.Width, Err: errors.Errorf("device reports %d", vf.pix.width)}
	}
	if vf.pix.height != uint32(opt.Height) {
		return &errdefs.DeviceConfigError{Device: path, Setting: errdefs.SettingHeight, Value: opt.Height, Err: errors.Errorf("device reports %d", vf.pix.height)}
	}

	var parm v4l2StreamParm
	parm.typ = bufTypeVideoOutput
	parm.parm.timeperframe = v4l2Fract{numerator: 1, denominator: uint32(opt.FPS)}
	if err := ioctl(fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return &errdefs.DeviceConfigError{Device: path, Setting: errdefs.SettingFrameRate, Value: opt.FPS, Err: errors.Wrap(err, "VIDIOC_S_PARM")}
	}
	if tpf := parm.parm.timeperframe; tpf.numerator != 0 {
		got := float64(tpf.denominator) / float64(tpf.numerator)
		if math.Abs(got-float64(opt.FPS)) >= 0.5 {
			return &errdefs.DeviceConfigError{Device: path, Setting: errdefs.SettingFrameRate, Value: opt.FPS, Err: errors.Errorf("device reports %v", got)}
		}
	}
	return nil
}

// findLoopback returns the first /dev/video* device driven by v4l2loopback.
func findLoopback() (string, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return "", err
	}
	sort.Strings(paths)
	for _, path := range paths {
		if isLoopback(path) {
			return path, nil
		}
	}
	return "", errors.New("no v4l2loopback device found")
}

func isLoopback(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer f.Close()

	c, err := queryCap(f.Fd())
	if err != nil {
		return false
	}
	return c.driverName() == loopbackDriver && c.canOutput()
}
