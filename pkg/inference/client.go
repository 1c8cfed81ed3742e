// Package inference is the boundary to the remote generative service.
//
// A Client offers three operations: a one-shot generation (used for image
// synthesis), a lazily pulled text stream with optional web grounding, and
// speech synthesis. Gemini is the primary backend; OpenAI serves
// OpenAI-compatible endpoints.
//
// Every failure from the remote side is returned as a *ServiceError. Context
// cancellation is passed through unwrapped so callers can tell a user abort
// from a service fault.
package inference

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"mime"
	"strconv"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// Client is implemented by Gemini and OpenAI.
type Client interface {
	// GenerateOnce issues a single request and returns the whole response.
	GenerateOnce(ctx context.Context, req *Request) (*Response, error)

	// GenerateStream issues a streaming request. The request is sent when
	// the sequence is first pulled; stopping iteration abandons the
	// response. A non-nil error is always the last element.
	GenerateStream(ctx context.Context, req *Request) iter.Seq2[*Chunk, error]

	// SynthesizeSpeech returns a single audio payload for the text, or a
	// nil Blob when the service answered without audio.
	SynthesizeSpeech(ctx context.Context, req *SpeechRequest) (*Blob, error)
}

// Part is one element of a request: Text or *Blob.
type Part interface {
	isPart()
}

// Text is a plain text part.
type Text string

func (Text) isPart() {}

// Blob is binary data with a MIME type, sent or received inline.
type Blob struct {
	MIMEType string
	Data     []byte
}

func (*Blob) isPart() {}

// IsImage reports whether the blob carries an image.
func (b *Blob) IsImage() bool {
	return strings.HasPrefix(b.MIMEType, "image/")
}

// SampleRate returns the rate= parameter of an audio MIME type such as
// "audio/L16;codec=pcm;rate=24000", or def when absent.
func (b *Blob) SampleRate(def int) int {
	_, params, err := mime.ParseMediaType(b.MIMEType)
	if err != nil {
		return def
	}
	if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
		return r
	}
	return def
}

// Modality is an output kind requested from the service.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityImage Modality = "IMAGE"
	ModalityAudio Modality = "AUDIO"
)

// Request is one generation request. Model is the backend's model id.
type Request struct {
	Model             string
	Parts             []Part
	SystemInstruction string

	// SearchGrounding enables the service's web search tool. Citations
	// then arrive on stream chunks.
	SearchGrounding bool

	// AspectRatio applies to image output, for example "1:1".
	AspectRatio string

	// Modalities restricts the response kinds. Empty means text.
	Modalities []Modality
}

func (r *Request) wants(m Modality) bool {
	for _, v := range r.Modalities {
		if v == m {
			return true
		}
	}
	return false
}

// PromptText joins the text parts of the request.
func (r *Request) PromptText() string {
	var sb strings.Builder
	for _, p := range r.Parts {
		if t, ok := p.(Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

// Citation is a web source that grounded a response.
type Citation struct {
	URI   string
	Title string
}

// Chunk is one increment of a streamed response.
type Chunk struct {
	Text      string
	Citations []Citation
}

// Response is the result of GenerateOnce.
type Response struct {
	Text      string
	Blobs     []*Blob
	Citations []Citation
}

// FirstImage returns the first inline image of the response.
func (r *Response) FirstImage() (*Blob, bool) {
	for _, b := range r.Blobs {
		if b.IsImage() && len(b.Data) > 0 {
			return b, true
		}
	}
	return nil, false
}

// SpeechRequest asks for spoken audio of Text in the named voice.
type SpeechRequest struct {
	Model string
	Text  string
	Voice string
}

// ErrNoCandidates is returned when the service answers without content.
var ErrNoCandidates = errors.New("inference: no candidates")

// ServiceError is a failure reported by, or on the way to, the remote
// service.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("inference: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Description is a human-readable reason suitable for showing to the user.
// It is empty when nothing better than the raw error is known.
func (e *ServiceError) Description() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var gerr genai.APIError
	if errors.As(e.Err, &gerr) && gerr.Message != "" {
		return gerr.Message
	}
	var gperr *genai.APIError
	if errors.As(e.Err, &gperr) && gperr != nil && gperr.Message != "" {
		return gperr.Message
	}
	var oerr *openai.Error
	if errors.As(e.Err, &oerr) && oerr.Message != "" {
		return oerr.Message
	}
	return e.Err.Error()
}

// wrapErr converts err into a *ServiceError. Context errors and nil pass
// through.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	if e, ok := err.(*apierror.APIError); ok {
		if u := e.Unwrap(); u != nil {
			err = u
		}
	}
	return &ServiceError{Op: op, Err: err}
}
