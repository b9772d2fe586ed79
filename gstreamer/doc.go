//go:build gstreamer

// Package gstreamer provides capture backends for imageflow built on
// GStreamer pipelines: CameraSource feeds live camera frames into an
// imageflow.Camera, and FileSource decodes a file or network URI as an
// imageflow.VideoSource for MovieInput.
//
// The package needs the system GStreamer libraries at build and run
// time, so it sits behind the gstreamer build tag:
//
//	go build -tags gstreamer ./...
//
// Both backends convert to tightly packed RGBA in the pipeline, so
// frames enter imageflow without a CPU-side conversion step.
package gstreamer
