// Package source brings audio into the service. The UDP source receives
// datagrams carrying raw PCM for many concurrent streams; the reader source
// replays a single PCM stream from an io.Reader, optionally paced at real
// time for testing against recordings.
package source
