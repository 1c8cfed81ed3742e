package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

var _ Client = (*OpenAI)(nil)

const (
	oaiFinishReasonStop          = "stop"
	oaiFinishReasonLength        = "length"
	oaiFinishReasonContentFilter = "content_filter"

	// OpenAI speech returns raw 16-bit little-endian mono PCM at 24 kHz.
	oaiPCMMIMEType = "audio/L16;codec=pcm;rate=24000"

	oaiDefaultVoice = "alloy"
)

// OpenAIConfig configures NewOpenAI.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// OpenAI implements Client on the OpenAI API and compatible endpoints.
// Image requests go to the images endpoint; web grounding uses the chat
// web search options and reports url_citation annotations as citations.
type OpenAI struct {
	Client *openai.Client
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("inference: api key is required for openai")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{Client: &client}, nil
}

func (o *OpenAI) GenerateOnce(ctx context.Context, req *Request) (*Response, error) {
	if req.wants(ModalityImage) {
		return o.generateImage(ctx, req)
	}
	params, err := oaiConvRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := o.Client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapErr("generate", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ServiceError{Op: "generate", Err: ErrNoCandidates}
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, &ServiceError{Op: "generate", Err: fmt.Errorf("blocked: %s", choice.Message.Refusal)}
	}
	return &Response{
		Text:      choice.Message.Content,
		Citations: oaiCitations(choice.Message.Annotations),
	}, nil
}

func oaiCitations(anns []openai.ChatCompletionMessageAnnotation) []Citation {
	var out []Citation
	for _, a := range anns {
		if a.URLCitation.URL != "" {
			out = append(out, Citation{URI: a.URLCitation.URL, Title: a.URLCitation.Title})
		}
	}
	return out
}

// oaiDeltaCitations reads the annotations of a streamed delta. The chunk
// delta type has no annotations field, so they arrive as an extra field.
func oaiDeltaCitations(delta openai.ChatCompletionChunkChoiceDelta) []Citation {
	f, ok := delta.JSON.ExtraFields["annotations"]
	if !ok || !f.Valid() {
		return nil
	}
	var anns []openai.ChatCompletionMessageAnnotation
	if err := json.Unmarshal([]byte(f.Raw()), &anns); err != nil {
		slog.Debug("inference/openai: skip undecodable annotations", "err", err)
		return nil
	}
	return oaiCitations(anns)
}

func (o *OpenAI) generateImage(ctx context.Context, req *Request) (*Response, error) {
	prompt := req.PromptText()
	if prompt == "" {
		return nil, errors.New("inference: image prompt is empty")
	}
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(req.Model),
		N:      param.NewOpt[int64](1),
	}
	// gpt-image models always answer with base64 and reject the format
	// parameter.
	if strings.HasPrefix(req.Model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}
	if req.AspectRatio == "1:1" {
		params.Size = openai.ImageGenerateParamsSize1024x1024
	}
	resp, err := o.Client.Images.Generate(ctx, params)
	if err != nil {
		return nil, wrapErr("generate image", err)
	}
	out := &Response{}
	for _, img := range resp.Data {
		if img.B64JSON == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, &ServiceError{Op: "generate image", Err: fmt.Errorf("decode image: %w", err)}
		}
		out.Blobs = append(out.Blobs, &Blob{MIMEType: "image/png", Data: data})
	}
	return out, nil
}

func (o *OpenAI) GenerateStream(ctx context.Context, req *Request) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		params, err := oaiConvRequest(req)
		if err != nil {
			yield(nil, err)
			return
		}
		stream := o.Client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var (
			index int64
			first = true
		)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			var sel *openai.ChatCompletionChunkChoice
			if first {
				first = false
				index = chunk.Choices[0].Index
				sel = &chunk.Choices[0]
			} else {
				for i := range chunk.Choices {
					if chunk.Choices[i].Index == index {
						sel = &chunk.Choices[i]
						break
					}
				}
				if sel == nil {
					continue
				}
			}
			c := &Chunk{Text: sel.Delta.Content, Citations: oaiDeltaCitations(sel.Delta)}
			if c.Text != "" || len(c.Citations) > 0 {
				if !yield(c, nil) {
					return
				}
			}
			if s := sel.Delta.Refusal; s != "" {
				yield(nil, &ServiceError{Op: "stream", Err: fmt.Errorf("blocked: %s", s)})
				return
			}
			switch sel.FinishReason {
			case oaiFinishReasonStop, oaiFinishReasonLength:
				return
			case oaiFinishReasonContentFilter:
				yield(nil, &ServiceError{Op: "stream", Err: errors.New("blocked by content filter")})
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, wrapErr("stream", err))
		}
	}
}

func (o *OpenAI) SynthesizeSpeech(ctx context.Context, req *SpeechRequest) (*Blob, error) {
	voice := req.Voice
	if voice == "" {
		voice = oaiDefaultVoice
	}
	resp, err := o.Client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          openai.SpeechModel(req.Model),
		Voice:          openai.AudioSpeechNewParamsVoice(strings.ToLower(voice)),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, wrapErr("synthesize speech", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr("synthesize speech", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &Blob{MIMEType: oaiPCMMIMEType, Data: data}, nil
}

func oaiConvRequest(req *Request) (openai.ChatCompletionNewParams, error) {
	if req == nil {
		return openai.ChatCompletionNewParams{}, errors.New("inference: nil request")
	}
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: param.NewOpt(req.SystemInstruction),
				},
			},
		})
	}

	var contents []openai.ChatCompletionContentPartUnionParam
	for _, p := range req.Parts {
		switch v := p.(type) {
		case Text:
			if v != "" {
				contents = append(contents, openai.TextContentPart(string(v)))
			}
		case *Blob:
			if v == nil || len(v.Data) == 0 {
				continue
			}
			if !v.IsImage() {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("inference: unsupported blob type %s", v.MIMEType)
			}
			url := "data:" + v.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(v.Data)
			contents = append(contents, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("inference: unexpected part type: %T", p)
		}
	}
	if len(contents) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("inference: no contents")
	}
	msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: contents,
			},
		},
	})

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}
	if req.SearchGrounding {
		params.WebSearchOptions = openai.ChatCompletionNewParamsWebSearchOptions{
			SearchContextSize: "medium",
		}
	}
	return params, nil
}
