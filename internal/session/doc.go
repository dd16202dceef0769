// Package session wires the full pipeline for one audio stream: frame
// assembly, utterance segmentation, dispatch to the recognition backend, turn
// merging, and output fan-out. A manager tracks live sessions and reaps the
// ones that go quiet.
package session
