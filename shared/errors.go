package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoDialer              = errors.New("no dialer provided")
	ErrNoMicrophone          = errors.New("no microphone provided")
	ErrNoAudioBackend        = errors.New("no audio backend provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrConnectInProgress     = errors.New("connect in progress")
	ErrLifecycleEnded        = errors.New("session lifecycle ended")
)

// ConfigError reports a missing or unusable credential. The message names
// every configuration key that was consulted so it can be shown verbatim.
type ConfigError struct {
	Keys []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("API key not found: set one of %s", strings.Join(e.Keys, ", "))
}

// PermissionError reports that microphone access was denied.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return "microphone access denied, please grant permission to use the microphone"
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// DeviceError reports an audio context creation or resume failure.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// CodecError reports a malformed audio payload.
type CodecError struct {
	Reason string
	Err    error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pcm codec: %s: %v", e.Reason, e.Err)
	}
	return "pcm codec: " + e.Reason
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// TransportError reports a live session send or receive failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live session %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Kind returns a short label for err, used as a metrics label.
func Kind(err error) string {
	var (
		configErr     *ConfigError
		permissionErr *PermissionError
		deviceErr     *DeviceError
		codecErr      *CodecError
		transportErr  *TransportError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &configErr):
		return "config"
	case errors.As(err, &permissionErr):
		return "permission"
	case errors.As(err, &deviceErr):
		return "device"
	case errors.As(err, &codecErr):
		return "codec"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "other"
	}
}
