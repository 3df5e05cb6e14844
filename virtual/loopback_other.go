//go:build !linux

package virtual

import (
	"os"

	"github.com/abihf/backdrop/errdefs"
	"github.com/pkg/errors"
)

var errUnsupported = errors.New("virtual cameras need v4l2loopback, which is linux only")

func openLoopback(path string, opt *Option) (*os.File, error) {
	return nil, &errdefs.DeviceConfigError{Device: path, Setting: errdefs.SettingOpen, Err: errUnsupported}
}

func findLoopback() (string, error) {
	return "", errUnsupported
}
