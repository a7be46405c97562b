// Package portaudio captures the rendered system mix on systems without
// WASAPI by recording from a PortAudio input that monitors an output,
// such as a PulseAudio or PipeWire "Monitor of ..." source.
package portaudio
