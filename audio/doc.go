// Package audio holds the capture and playback graph of a live voice session:
// a 16 kHz input context that reblocks microphone samples, a 24 kHz software
// output context that mixes scheduled voices through gain and analysis, and
// the scheduler that keeps streamed replies gap-free.
package audio
