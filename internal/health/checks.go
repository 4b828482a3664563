package health

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNotListening is reported by [Listening] while recognition is stopped.
	ErrNotListening = errors.New("recognition loop is not listening")

	// ErrNoSpeechSession is reported by [SpeechSession] while the
	// recognition loop is reconnecting to its speech engine.
	ErrNoSpeechSession = errors.New("no speech session")
)

// Listening fails unless listening reports true.
func Listening(listening func() bool) Checker {
	return Checker{
		Name: "recognition",
		Check: func(context.Context) error {
			if !listening() {
				return ErrNotListening
			}
			return nil
		},
	}
}

// SpeechSession fails unless connected reports true.
func SpeechSession(connected func() bool) Checker {
	return Checker{
		Name: "speech_session",
		Check: func(context.Context) error {
			if !connected() {
				return ErrNoSpeechSession
			}
			return nil
		},
	}
}

// DirWritable fails unless a file can be created in the directory returned
// by dir. The directory is read on every check so configuration changes are
// picked up.
func DirWritable(name string, dir func() string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			d := dir()
			f, err := os.CreateTemp(d, ".voiceclip-probe-*")
			if err != nil {
				return fmt.Errorf("%s not writable: %w", d, err)
			}
			f.Close()
			return os.Remove(f.Name())
		},
	}
}
