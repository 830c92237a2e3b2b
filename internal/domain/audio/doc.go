// Package audio holds the PCM primitives shared by the live and batch
// pipelines: format arithmetic, the windowing buffer, fixed-size segmenting
// and WAV container encoding.
package audio
