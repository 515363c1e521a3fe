// Package chronovoice is a talking clock: a voice assistant that greets the
// user with the current time and a historical fact, then keeps a spoken
// conversation going over a live audio session.
//
// The Controller owns one session lifecycle at a time. Connect acquires the
// credential, the microphone, the audio graph and the live session in that
// order; every failure and every disconnect funnels into a single cleanup that
// releases whatever was acquired. Microphone blocks are encoded as 16 kHz PCM
// and streamed to the model, and the model's 24 kHz PCM replies are laid end
// to end on the output by the playback scheduler.
package chronovoice
