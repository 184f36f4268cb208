//go:build !linux

package poller

import "github.com/pkg/errors"

func newEpoll() (Poller, error) {
	return nil, errors.Wrap(ErrBackend, "epoll requires linux")
}
