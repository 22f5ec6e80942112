//go:build !unix

package player

import (
	"errors"
	"os"
)

var errPauseUnsupported = errors.New("pausing the player is not supported on this platform")

func stopProcess(*os.Process) error {
	return errPauseUnsupported
}

func continueProcess(*os.Process) error {
	return errPauseUnsupported
}
