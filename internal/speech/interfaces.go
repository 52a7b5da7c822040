package speech

import (
	"context"
)

// Word is one recognized word with its speaker attribution
type Word struct {
	Text       string `json:"text"`
	SpeakerTag int    `json:"speaker_tag"` // 0 when the service did not attribute the word
}

// Segment is one recognized span of speech, taken from the top alternative
type Segment struct {
	Transcript string `json:"transcript"`
	Words      []Word `json:"words,omitempty"`
}

// Result is the payload of a completed recognition job
type Result struct {
	Segments []Segment `json:"segments"`
}

// Status is the remote state of a recognition job at the time of one query
type Status struct {
	Done   bool    // Job has finished, successfully or not
	Err    error   // Remote failure reported by the service, only set when Done
	Result *Result // Recognition output, only set when Done without Err
}

// RecognitionConfig holds the settings sent with every job submission
type RecognitionConfig struct {
	Encoding                 string
	SampleRateHz             int
	LanguageCode             string
	AlternativeLanguageCodes []string
	EnablePunctuation        bool
	EnableDiarization        bool
	SpeakerCount             int // 0 lets the service decide
	Model                    string
}

// Recognizer defines the interface for asynchronous batch speech recognition
type Recognizer interface {
	// Submit starts a long-running job for the audio at uri and returns its handle
	Submit(ctx context.Context, uri string, config RecognitionConfig) (string, error)

	// Check performs one status round trip for the job identified by handle.
	// A non-nil error means the query itself failed; remote job failures are reported in Status.Err.
	Check(ctx context.Context, handle string) (Status, error)
}
