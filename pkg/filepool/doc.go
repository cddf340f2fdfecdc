// Package filepool implements a shared, reference-counted cache of audio
// sample data for real-time synthesizers: preloading prefixes
// synchronously, streaming the remainder in the background, deduplicating
// identical files across synthesizers, and reclaiming idle buffers with a
// background collector. See SPEC_FULL.md for the full design.
package filepool
