// Package audio handles WAV decoding/encoding and the in-memory audio
// buffer that feeds the detection pipeline. It supports mono 16-bit PCM
// only; multi-channel downmixing is the submitter's responsibility.
package audio
