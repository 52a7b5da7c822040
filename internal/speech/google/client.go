package google

import (
	"context"
	"fmt"
	"strings"

	gspeech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/yegors/transcribe-gateway/internal/speech"
	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// Client submits and polls Google Cloud Speech long-running recognition jobs
type Client struct {
	speech *gspeech.Client
	logger *logger.Logger
}

// NewClient creates a speech client. An empty credentialsPath uses application default credentials.
// Extra options are passed to the underlying client after the credentials option.
func NewClient(ctx context.Context, credentialsPath string, log *logger.Logger, extra ...option.ClientOption) (*Client, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	sc, err := gspeech.NewClient(ctx, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	return &Client{
		speech: sc,
		logger: log.Named("speech"),
	}, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.speech.Close()
}

// Submit starts a LongRunningRecognize operation and returns its name
func (c *Client) Submit(ctx context.Context, uri string, config speech.RecognitionConfig) (string, error) {
	req, err := buildRequest(uri, config)
	if err != nil {
		return "", err
	}

	op, err := c.speech.LongRunningRecognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("long running recognize: %w", err)
	}

	c.logger.Info("Recognition job started",
		logger.String("uri", uri),
		logger.String("job", op.Name()))

	return op.Name(), nil
}

// Check polls the operation once
func (c *Client) Check(ctx context.Context, handle string) (speech.Status, error) {
	op := c.speech.LongRunningRecognizeOperation(handle)

	resp, err := op.Poll(ctx)
	if err != nil {
		if op.Done() {
			// The service finished the job and reported a failure
			return speech.Status{Done: true, Err: err}, nil
		}
		return speech.Status{}, fmt.Errorf("poll operation %s: %w", handle, err)
	}
	if !op.Done() {
		return speech.Status{}, nil
	}

	return speech.Status{Done: true, Result: convertResponse(resp)}, nil
}

func buildRequest(uri string, config speech.RecognitionConfig) (*speechpb.LongRunningRecognizeRequest, error) {
	encoding, ok := speechpb.RecognitionConfig_AudioEncoding_value[strings.ToUpper(config.Encoding)]
	if !ok {
		return nil, fmt.Errorf("unsupported audio encoding: %s", config.Encoding)
	}

	rc := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_AudioEncoding(encoding),
		SampleRateHertz:            int32(config.SampleRateHz),
		LanguageCode:               config.LanguageCode,
		AlternativeLanguageCodes:   config.AlternativeLanguageCodes,
		EnableAutomaticPunctuation: config.EnablePunctuation,
		Model:                      config.Model,
	}
	if config.EnableDiarization {
		dc := &speechpb.SpeakerDiarizationConfig{EnableSpeakerDiarization: true}
		if config.SpeakerCount > 0 {
			dc.MinSpeakerCount = int32(config.SpeakerCount)
			dc.MaxSpeakerCount = int32(config.SpeakerCount)
		}
		rc.DiarizationConfig = dc
	}

	return &speechpb.LongRunningRecognizeRequest{
		Config: rc,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: uri},
		},
	}, nil
}

// convertResponse keeps only the first (highest-confidence) alternative of every result
func convertResponse(resp *speechpb.LongRunningRecognizeResponse) *speech.Result {
	result := &speech.Result{Segments: []speech.Segment{}}
	if resp == nil {
		return result
	}

	for _, r := range resp.GetResults() {
		var seg speech.Segment
		if alts := r.GetAlternatives(); len(alts) > 0 {
			alt := alts[0]
			seg.Transcript = alt.GetTranscript()
			for _, w := range alt.GetWords() {
				seg.Words = append(seg.Words, speech.Word{
					Text:       w.GetWord(),
					SpeakerTag: int(w.GetSpeakerTag()),
				})
			}
		}
		result.Segments = append(result.Segments, seg)
	}
	return result
}
