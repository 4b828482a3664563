package stt

import "time"

// Transcript is a final speech-to-text result for one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the audio the utterance was decoded from.
	Duration time.Duration
}

// Result is the structured engine output every provider decodes into. Engine
// responses are parsed as data, never evaluated.
type Result struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Transcript converts r into a Transcript covering dur of audio.
func (r Result) Transcript(dur time.Duration) Transcript {
	t := Transcript{Text: r.Text, Duration: dur}
	if r.Confidence != nil {
		t.Confidence = *r.Confidence
	}
	return t
}
