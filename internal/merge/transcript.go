package merge

import "sort"

// Turn is a continuous run of speech by one speaker.
type Turn struct {
	Speaker     string  `json:"speaker"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Interrupted bool    `json:"interrupted,omitempty"`
}

// Transcript is the accumulated dialog: every closed turn in order, plus
// the set of speakers seen.
type Transcript struct {
	Turns         []Turn   `json:"turns"`
	Speakers      []string `json:"speakers"`
	TotalDuration float64  `json:"total_duration"`
}

// buildTranscript assembles a snapshot from closed turns and an optional
// still-open turn.
func buildTranscript(closed []Turn, open *Turn) Transcript {
	turns := make([]Turn, len(closed), len(closed)+1)
	copy(turns, closed)
	if open != nil {
		turns = append(turns, *open)
	}

	seen := make(map[string]struct{})
	for _, t := range turns {
		seen[t.Speaker] = struct{}{}
	}
	speakers := make([]string, 0, len(seen))
	for s := range seen {
		speakers = append(speakers, s)
	}
	sort.Strings(speakers)

	// Total spoken time, not stream span: silence between turns does not
	// count.
	total := 0.0
	for _, t := range turns {
		total += t.End - t.Start
	}

	return Transcript{
		Turns:         turns,
		Speakers:      speakers,
		TotalDuration: total,
	}
}
