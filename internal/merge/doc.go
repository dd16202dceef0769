// Package merge folds speaker-labeled transcription segments into
// continuous dialog turns. Segments from the worker pool may arrive out of
// order, so a small reorder buffer sorts them by start time before merging.
// Consecutive segments from the same speaker extend the open turn; a speaker
// change closes it, and a change arriving hard on the heels of the previous
// speech is flagged as an interruption.
package merge
