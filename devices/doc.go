// Package devices binds the audio graph to real hardware: the microphone via
// pion/mediadevices and the speaker via oto.
package devices
