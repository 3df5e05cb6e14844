//go:build linux && (amd64 || arm64 || riscv64 || ppc64le || s390x)

package virtual

import (
	"testing"
	"unsafe"
)

// ioctlSize extracts the argument size encoded in bits 16..29 of a request.
func ioctlSize(req uintptr) uintptr {
	return (req >> 16) & 0x3fff
}

func TestIoctlStructSizes(t *testing.T) {
	testCases := []struct {
		name string
		req  uintptr
		size uintptr
		want uintptr
	}{
		{name: "v4l2_capability", req: vidiocQueryCap, size: unsafe.Sizeof(v4l2Capability{}), want: 104},
		{name: "v4l2_format", req: vidiocSFmt, size: unsafe.Sizeof(v4l2Format{}), want: 208},
		{name: "v4l2_streamparm", req: vidiocSParm, size: unsafe.Sizeof(v4l2StreamParm{}), want: 204},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.size != tc.want {
				t.Errorf("sizeof = %d, want %d", tc.size, tc.want)
			}
			if got := ioctlSize(tc.req); got != tc.size {
				t.Errorf("request encodes %d bytes, struct is %d", got, tc.size)
			}
		})
	}
}

func TestPixFormatLayout(t *testing.T) {
	if got := unsafe.Sizeof(v4l2PixFormat{}); got != 48 {
		t.Errorf("sizeof v4l2_pix_format = %d, want 48", got)
	}
	var f v4l2Format
	if got := unsafe.Offsetof(f.pix); got != 8 {
		t.Errorf("pix offset = %d, want 8", got)
	}
	var p v4l2StreamParm
	if got := unsafe.Offsetof(p.parm); got != 4 {
		t.Errorf("parm offset = %d, want 4", got)
	}
}
