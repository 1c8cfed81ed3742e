package inference

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"
)

var _ Client = (*Gemini)(nil)

// GeminiConfig configures NewGemini.
type GeminiConfig struct {
	APIKey string

	// BaseURL overrides the service endpoint, mainly for proxies.
	BaseURL string
}

// Gemini implements Client on the Google Gemini API.
type Gemini struct {
	Client *genai.Client
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("inference: api key is required for gemini")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("inference: create gemini client: %w", err)
	}
	return &Gemini{Client: client}, nil
}

func (g *Gemini) GenerateOnce(ctx context.Context, req *Request) (*Response, error) {
	cfg, contents, err := geminiConvRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := g.Client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, wrapErr("generate", err)
	}
	sel := geminiSelect(resp, 0)
	if sel == nil || sel.Content == nil {
		return nil, &ServiceError{Op: "generate", Err: geminiNoCandidates(resp)}
	}
	out := &Response{Citations: geminiCitations(sel)}
	var sb strings.Builder
	for _, p := range sel.Content.Parts {
		switch {
		case p.Thought:
		case p.Text != "":
			sb.WriteString(p.Text)
		case p.InlineData != nil:
			out.Blobs = append(out.Blobs, &Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
		}
	}
	out.Text = sb.String()
	return out, nil
}

func (g *Gemini) GenerateStream(ctx context.Context, req *Request) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		cfg, contents, err := geminiConvRequest(req)
		if err != nil {
			yield(nil, err)
			return
		}
		geminiPull(g.Client.Models.GenerateContentStream(ctx, req.Model, contents, cfg), yield)
	}
}

func (g *Gemini) SynthesizeSpeech(ctx context.Context, req *SpeechRequest) (*Blob, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: req.Voice},
			},
		},
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Text, genai.RoleUser)}
	resp, err := g.Client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, wrapErr("synthesize speech", err)
	}
	sel := geminiSelect(resp, 0)
	if sel == nil || sel.Content == nil {
		return nil, nil
	}
	for _, p := range sel.Content.Parts {
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			return &Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}, nil
		}
	}
	return nil, nil
}

// geminiPull forwards a content stream to yield. The first candidate seen
// fixes the candidate index followed for the rest of the stream.
func geminiPull(itr iter.Seq2[*genai.GenerateContentResponse, error], yield func(*Chunk, error) bool) {
	var (
		selIdx int32
		first  = true
	)
	for resp, err := range itr {
		if err != nil {
			yield(nil, wrapErr("stream", err))
			return
		}
		if resp == nil || len(resp.Candidates) == 0 {
			if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
				yield(nil, &ServiceError{Op: "stream", Err: fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)})
				return
			}
			continue
		}
		var sel *genai.Candidate
		if first {
			first = false
			selIdx = resp.Candidates[0].Index
			sel = resp.Candidates[0]
		} else {
			sel = geminiSelect(resp, selIdx)
			if sel == nil {
				continue
			}
		}

		chunk := &Chunk{Citations: geminiCitations(sel)}
		if sel.Content != nil {
			var sb strings.Builder
			for _, p := range sel.Content.Parts {
				if p.Text != "" && !p.Thought {
					sb.WriteString(p.Text)
				}
			}
			chunk.Text = sb.String()
		}
		if chunk.Text != "" || len(chunk.Citations) > 0 {
			if !yield(chunk, nil) {
				return
			}
		}

		switch sel.FinishReason {
		case genai.FinishReasonUnspecified, "":
			// continue
		case genai.FinishReasonStop, genai.FinishReasonMaxTokens:
			return
		case genai.FinishReasonSafety:
			var cats []string
			for _, sr := range sel.SafetyRatings {
				if sr.Blocked {
					cats = append(cats, string(sr.Category))
				}
			}
			yield(nil, &ServiceError{Op: "stream", Err: fmt.Errorf("blocked by %s", strings.Join(cats, ", "))})
			return
		default:
			yield(nil, &ServiceError{Op: "stream", Err: fmt.Errorf("unexpected finish reason: %s", sel.FinishReason)})
			return
		}
	}
}

func geminiSelect(resp *genai.GenerateContentResponse, idx int32) *genai.Candidate {
	if resp == nil {
		return nil
	}
	for _, c := range resp.Candidates {
		if c.Index == idx {
			return c
		}
	}
	if idx == 0 && len(resp.Candidates) > 0 {
		return resp.Candidates[0]
	}
	return nil
}

func geminiNoCandidates(resp *genai.GenerateContentResponse) error {
	if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("%w: prompt blocked: %s", ErrNoCandidates, resp.PromptFeedback.BlockReason)
	}
	return ErrNoCandidates
}

// geminiCitations extracts the web sources of a candidate's grounding
// metadata, skipping chunks without a URI.
func geminiCitations(c *genai.Candidate) []Citation {
	if c == nil || c.GroundingMetadata == nil {
		return nil
	}
	var out []Citation
	for _, gc := range c.GroundingMetadata.GroundingChunks {
		if gc == nil || gc.Web == nil || gc.Web.URI == "" {
			continue
		}
		out = append(out, Citation{URI: gc.Web.URI, Title: gc.Web.Title})
	}
	return out
}

func geminiConvRequest(req *Request) (*genai.GenerateContentConfig, []*genai.Content, error) {
	if req == nil {
		return nil, nil, errors.New("inference: nil request")
	}
	var parts []*genai.Part
	for _, p := range req.Parts {
		switch v := p.(type) {
		case Text:
			if v != "" {
				parts = append(parts, genai.NewPartFromText(string(v)))
			}
		case *Blob:
			if v != nil && len(v.Data) > 0 {
				parts = append(parts, genai.NewPartFromBytes(v.Data, v.MIMEType))
			}
		default:
			return nil, nil, fmt.Errorf("inference: unexpected part type: %T", p)
		}
	}
	if len(parts) == 0 {
		return nil, nil, errors.New("inference: no contents")
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(req.SystemInstruction)}}
	}
	if req.SearchGrounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if req.AspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: req.AspectRatio}
	}
	for _, m := range req.Modalities {
		cfg.ResponseModalities = append(cfg.ResponseModalities, string(m))
	}
	return cfg, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}
