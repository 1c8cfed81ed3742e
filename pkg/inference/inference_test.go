package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

func TestBlobSampleRate(t *testing.T) {
	tests := []struct {
		mime string
		want int
	}{
		{"audio/L16;codec=pcm;rate=24000", 24000},
		{"audio/L16;rate=16000", 16000},
		{"audio/L16", 24000},
		{"audio/L16;rate=abc", 24000},
		{"", 24000},
	}
	for _, tt := range tests {
		got := (&Blob{MIMEType: tt.mime}).SampleRate(24000)
		if got != tt.want {
			t.Errorf("SampleRate(%q) = %d, want %d", tt.mime, got, tt.want)
		}
	}
}

func TestResponseFirstImage(t *testing.T) {
	r := &Response{Blobs: []*Blob{
		{MIMEType: "audio/wav", Data: []byte{1}},
		{MIMEType: "image/png"},
		{MIMEType: "image/jpeg", Data: []byte{2}},
	}}
	b, ok := r.FirstImage()
	if !ok || b.MIMEType != "image/jpeg" {
		t.Fatalf("FirstImage = %v, %v", b, ok)
	}
	if _, ok := (&Response{}).FirstImage(); ok {
		t.Fatal("FirstImage on empty response")
	}
}

func TestWrapErr(t *testing.T) {
	if wrapErr("op", nil) != nil {
		t.Fatal("nil not passed through")
	}
	if err := wrapErr("op", context.Canceled); err != context.Canceled {
		t.Fatalf("context.Canceled wrapped: %v", err)
	}
	if err := wrapErr("op", fmt.Errorf("x: %w", context.DeadlineExceeded)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline lost: %v", err)
	}

	base := errors.New("quota exceeded")
	err := wrapErr("stream", base)
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T, want *ServiceError", err)
	}
	if se.Op != "stream" || !errors.Is(err, base) {
		t.Fatalf("se = %+v", se)
	}
	if se.Description() != "quota exceeded" {
		t.Fatalf("Description = %q", se.Description())
	}
	if again := wrapErr("other", err); again != err {
		t.Fatal("ServiceError wrapped twice")
	}
}

func TestServiceErrorDescription(t *testing.T) {
	inner := genai.APIError{Code: 503, Message: "The model is overloaded.", Status: "UNAVAILABLE"}
	se := wrapErr("generate", fmt.Errorf("call: %w", inner)).(*ServiceError)
	if got := se.Description(); got != "The model is overloaded." {
		t.Fatalf("Description = %q", got)
	}
	if (*ServiceError)(nil).Description() != "" {
		t.Fatal("nil Description not empty")
	}
}

func TestGeminiConvRequest(t *testing.T) {
	req := &Request{
		Model:             "m",
		Parts:             []Part{Text("describe"), &Blob{MIMEType: "image/png", Data: []byte{1, 2}}, Text("")},
		SystemInstruction: "be brief",
		SearchGrounding:   true,
		AspectRatio:       "1:1",
		Modalities:        []Modality{ModalityText, ModalityImage},
	}
	cfg, contents, err := geminiConvRequest(req)
	if err != nil {
		t.Fatalf("geminiConvRequest: %v", err)
	}
	if len(contents) != 1 || len(contents[0].Parts) != 2 {
		t.Fatalf("contents = %+v", contents)
	}
	if contents[0].Role != genai.RoleUser {
		t.Fatalf("role = %q", contents[0].Role)
	}
	if contents[0].Parts[1].InlineData == nil || contents[0].Parts[1].InlineData.MIMEType != "image/png" {
		t.Fatalf("blob part = %+v", contents[0].Parts[1])
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatal("system instruction missing")
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].GoogleSearch == nil {
		t.Fatal("search tool missing")
	}
	if cfg.ImageConfig == nil || cfg.ImageConfig.AspectRatio != "1:1" {
		t.Fatal("image config missing")
	}
	if len(cfg.ResponseModalities) != 2 || cfg.ResponseModalities[1] != "IMAGE" {
		t.Fatalf("modalities = %v", cfg.ResponseModalities)
	}

	plain, _, err := geminiConvRequest(&Request{Parts: []Part{Text("hi")}})
	if err != nil {
		t.Fatal(err)
	}
	if plain.Tools != nil || plain.SystemInstruction != nil || plain.ImageConfig != nil {
		t.Fatalf("unexpected config: %+v", plain)
	}

	if _, _, err := geminiConvRequest(&Request{Parts: []Part{Text("")}}); err == nil {
		t.Fatal("empty request accepted")
	}
}

func geminiStream(resps ...any) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range resps {
			switch v := r.(type) {
			case error:
				if !yield(nil, v) {
					return
				}
			case *genai.GenerateContentResponse:
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}

func textResp(text string, finish genai.FinishReason, uris ...string) *genai.GenerateContentResponse {
	c := &genai.Candidate{
		Content:      &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		FinishReason: finish,
	}
	if len(uris) > 0 {
		c.GroundingMetadata = &genai.GroundingMetadata{}
		for _, u := range uris {
			c.GroundingMetadata.GroundingChunks = append(c.GroundingMetadata.GroundingChunks,
				&genai.GroundingChunk{Web: &genai.GroundingChunkWeb{URI: u, Title: "t"}})
		}
		c.GroundingMetadata.GroundingChunks = append(c.GroundingMetadata.GroundingChunks, &genai.GroundingChunk{})
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{c}}
}

func collect(seq iter.Seq2[*Chunk, error]) ([]*Chunk, error) {
	var out []*Chunk
	for c, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

func TestGeminiPull(t *testing.T) {
	seq := func(yield func(*Chunk, error) bool) {
		geminiPull(geminiStream(
			textResp("Hel", ""),
			textResp("lo", "", "https://a", "https://b"),
			textResp("", genai.FinishReasonStop),
			textResp("after stop", ""),
		), yield)
	}
	chunks, err := collect(seq)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("len = %d, want 2", len(chunks))
	}
	if chunks[0].Text != "Hel" || chunks[1].Text != "lo" {
		t.Fatalf("texts = %q %q", chunks[0].Text, chunks[1].Text)
	}
	if len(chunks[1].Citations) != 2 || chunks[1].Citations[1].URI != "https://b" {
		t.Fatalf("citations = %+v", chunks[1].Citations)
	}
}

func TestGeminiPullErrors(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		seq := func(yield func(*Chunk, error) bool) {
			geminiPull(geminiStream(textResp("a", ""), errors.New("reset")), yield)
		}
		chunks, err := collect(seq)
		var se *ServiceError
		if !errors.As(err, &se) || len(chunks) != 1 {
			t.Fatalf("chunks = %d, err = %v", len(chunks), err)
		}
	})
	t.Run("safety", func(t *testing.T) {
		resp := textResp("", genai.FinishReasonSafety)
		resp.Candidates[0].SafetyRatings = []*genai.SafetyRating{{Category: genai.HarmCategoryHarassment, Blocked: true}}
		seq := func(yield func(*Chunk, error) bool) {
			geminiPull(geminiStream(resp), yield)
		}
		_, err := collect(seq)
		var se *ServiceError
		if !errors.As(err, &se) {
			t.Fatalf("err = %v, want *ServiceError", err)
		}
	})
	t.Run("cancel", func(t *testing.T) {
		seq := func(yield func(*Chunk, error) bool) {
			geminiPull(geminiStream(context.Canceled), yield)
		}
		_, err := collect(seq)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
		var se *ServiceError
		if errors.As(err, &se) {
			t.Fatal("cancellation wrapped as ServiceError")
		}
	})
}

func TestGeminiPullEarlyStop(t *testing.T) {
	pulled := 0
	src := func(yield func(*genai.GenerateContentResponse, error) bool) {
		for i := 0; i < 10; i++ {
			pulled++
			if !yield(textResp("x", ""), nil) {
				return
			}
		}
	}
	seq := func(yield func(*Chunk, error) bool) { geminiPull(src, yield) }
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	if pulled != 2 {
		t.Fatalf("pulled = %d, want 2", pulled)
	}
}

func TestOpenAIConvRequest(t *testing.T) {
	params, err := oaiConvRequest(&Request{
		Model:             "gpt-4o",
		Parts:             []Part{Text("what is this"), &Blob{MIMEType: "image/png", Data: []byte{1}}},
		SystemInstruction: "sys",
		SearchGrounding:   true,
	})
	if err != nil {
		t.Fatalf("oaiConvRequest: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Fatal("first message is not system")
	}
	user := params.Messages[1].OfUser
	if user == nil || len(user.Content.OfArrayOfContentParts) != 2 {
		t.Fatalf("user message = %+v", user)
	}
	img := user.Content.OfArrayOfContentParts[1].OfImageURL
	if img == nil || img.ImageURL.URL != "data:image/png;base64,AQ==" {
		t.Fatalf("image part = %+v", img)
	}
	if params.WebSearchOptions.SearchContextSize == "" {
		t.Fatal("web search not enabled")
	}

	if _, err := oaiConvRequest(&Request{Parts: []Part{&Blob{MIMEType: "audio/wav", Data: []byte{1}}}}); err == nil {
		t.Fatal("audio blob accepted")
	}
}

func TestPromptText(t *testing.T) {
	r := &Request{Parts: []Part{Text("a"), &Blob{}, Text("b")}}
	if r.PromptText() != "ab" {
		t.Fatalf("PromptText = %q", r.PromptText())
	}
	if !(&Request{Modalities: []Modality{ModalityImage}}).wants(ModalityImage) {
		t.Fatal("wants(image) = false")
	}
}

func TestOpenAIDeltaCitations(t *testing.T) {
	var chunk openai.ChatCompletionChunk
	raw := `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"finish_reason":null,
		"delta":{"content":"","annotations":[
			{"type":"url_citation","url_citation":{"start_index":0,"end_index":4,"title":"Met","url":"https://met.example"}},
			{"type":"url_citation","url_citation":{"start_index":0,"end_index":4,"title":"","url":""}}]}}]}`
	if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := oaiDeltaCitations(chunk.Choices[0].Delta)
	if len(got) != 1 || got[0].URI != "https://met.example" || got[0].Title != "Met" {
		t.Fatalf("citations = %+v", got)
	}

	var plain openai.ChatCompletionChunk
	if err := json.Unmarshal([]byte(`{"id":"c2","choices":[{"index":0,"delta":{"content":"hi"}}]}`), &plain); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := oaiDeltaCitations(plain.Choices[0].Delta); got != nil {
		t.Fatalf("citations without annotations = %+v", got)
	}
}

func TestOpenAIStreamCitations(t *testing.T) {
	events := []string{
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Sunny"},"finish_reason":null}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"annotations":[{"type":"url_citation","url_citation":{"start_index":0,"end_index":5,"title":"Met","url":"https://met.example"}}]},"finish_reason":null}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := collect(c.GenerateStream(context.Background(), &Request{
		Model:           "gpt-4o",
		Parts:           []Part{Text("weather")},
		SearchGrounding: true,
	}))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Text != "Sunny" {
		t.Errorf("text = %q", chunks[0].Text)
	}
	if cs := chunks[1].Citations; len(cs) != 1 || cs[0].URI != "https://met.example" {
		t.Errorf("citations = %+v", cs)
	}
}
