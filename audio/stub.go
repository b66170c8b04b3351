//go:build !malgo

package audio

import "github.com/sirupsen/logrus"

// newDeviceBackend is a stub used when the malgo build tag is disabled.
func newDeviceBackend(log *logrus.Entry) (Backend, error) {
	log.Warn("built without sound card support, rebuild with -tags malgo or use the wav backend")
	return nil, ErrBackendUnavailable
}
