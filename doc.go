// Package streamcast provides adaptive UDP video streaming with a
// reliable TCP control channel.
//
// The server (package server) delivers pre-encoded video frames to
// registered clients, fragmenting frames that exceed the datagram
// budget and pacing transmission to the source frame rate. The client
// (package client) reassembles frames, measures latency, jitter, loss,
// and throughput over a sliding window (package monitor), and runs a
// hysteretic adaptation engine (package adaptation) that negotiates
// quality level changes back to the server over the control channel
// (package control).
//
// Wire formats live in package protocol; YAML configuration in package
// config; Prometheus instrumentation in package metrics. The
// cmd/streamcast-server and cmd/streamcast-client binaries tie the
// pieces together.
package streamcast
