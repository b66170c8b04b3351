// Package audio provides the capture and playback devices used by a call.
//
// All audio is 16-bit signed little-endian PCM, mono, 8000 Hz, moved in chunks of ChunkSize bytes.
// Two backends exist: the sound card through miniaudio (build with -tags malgo) and WAV files, which
// is useful on headless hosts and in tests.
package audio
