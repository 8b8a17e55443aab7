// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package spectra6

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// ErrBusyTimeout is matched by every *BusyTimeoutError.
var ErrBusyTimeout = errors.New("spectra6: busy timeout")

// BusyTimeoutError reports that the panel still signalled busy when a wait
// ended. The sequence that issued the wait carried on regardless.
type BusyTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *BusyTimeoutError) Error() string {
	return fmt.Sprintf("spectra6: panel still busy after %s (%s)", e.Timeout, e.Stage)
}

// Is makes errors.Is(err, ErrBusyTimeout) true.
func (e *BusyTimeoutError) Is(target error) bool {
	return target == ErrBusyTimeout
}

// waitBusy waits for the busy line to leave the busy level.
//
// Hardware workaround: when the line already reads busy on entry it can
// still glitch to idle for a moment while the panel works, so the full
// timeout is slept instead of polling. Otherwise the line is polled every
// interval until idle or until the timeout elapses. The caller proceeds in
// every case; a non-nil error only reports the timeout.
func waitBusy(pin gpio.PinIn, busy gpio.Level, timeout, interval time.Duration, stage string) error {
	if pin.Read() == busy {
		time.Sleep(timeout)
		if pin.Read() == busy {
			return &BusyTimeoutError{Stage: stage, Timeout: timeout}
		}
		return nil
	}

	deadline := time.Now().Add(timeout)
	for pin.Read() == busy {
		if !time.Now().Before(deadline) {
			return &BusyTimeoutError{Stage: stage, Timeout: timeout}
		}
		time.Sleep(interval)
	}
	return nil
}
