//go:build !linux && !darwin

package poller

import "github.com/pkg/errors"

func newPoll() (Poller, error) {
	return nil, errors.Wrap(ErrBackend, "poll requires linux or darwin")
}
