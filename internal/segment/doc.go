// Package segment turns a classified frame stream into utterance boundaries.
// The segmenter is a pure state machine over 20ms frames: it opens an
// utterance on speech, publishes bounded-context partial snapshots while
// speech continues, and finalizes on sustained silence or a hard length cap.
package segment
