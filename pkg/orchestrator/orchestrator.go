// Package orchestrator turns a user submission into assistant messages.
//
// Submit appends the user's message, picks a route from the interaction
// mode and the prompt, and runs the generation on its own goroutine: image
// synthesis as a single call, everything else as a stream folded into one
// assistant message chunk by chunk. At most one request is outstanding at
// a time; the returned Handle is the slot token and the cancellation
// control.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/qqhmm2-web/NexusAI/pkg/attachment"
	"github.com/qqhmm2-web/NexusAI/pkg/inference"
	"github.com/qqhmm2-web/NexusAI/pkg/prefs"
	"github.com/qqhmm2-web/NexusAI/pkg/session"
)

var (
	// ErrBusy is returned by Submit while another request is outstanding.
	ErrBusy = errors.New("orchestrator: a request is already outstanding")

	// ErrEmptySubmission is returned for a blank prompt without attachment.
	ErrEmptySubmission = errors.New("orchestrator: empty prompt and no attachment")
)

const (
	ImageSuccessText = "Nexus synthesis complete. Image generated from neural prompts:"
	ImageFailureText = "Vision synthesis failed."

	// FailurePrefix starts the assistant message that reports a service
	// failure.
	FailurePrefix   = "Protocol Link Failure: "
	FallbackFailure = "System overloaded."

	// TaskTitle names a session created by a submission without prompt
	// text.
	TaskTitle = "Task"

	ImageAspectRatio = "1:1"

	codeFence = "```"
)

// Models names the backend model used by each route.
type Models struct {
	Default string
	Coding  string
	Image   string
}

// DefaultModels are the Gemini models for each route.
var DefaultModels = Models{
	Default: "gemini-3-flash-preview",
	Coding:  "gemini-3-pro-preview",
	Image:   "gemini-2.5-flash-image",
}

// Config tunes an Orchestrator. Zero fields take defaults.
type Config struct {
	Models Models

	// ImageTriggers overrides DefaultImageTriggers when non-nil.
	ImageTriggers []string

	// Timeout bounds each request. Zero means no limit.
	Timeout time.Duration
}

// Orchestrator runs submissions against a session store. It is safe for
// concurrent use.
type Orchestrator struct {
	store  *session.Store
	client inference.Client
	prefs  *prefs.Prefs

	models   Models
	triggers []string
	timeout  time.Duration

	// submitMu serializes Submit; mu guards the fields below and is
	// never held across store calls.
	submitMu    sync.Mutex
	mu          sync.Mutex
	outstanding *Handle
	staged      *session.Attachment
}

func New(store *session.Store, client inference.Client, p *prefs.Prefs, cfg Config) *Orchestrator {
	if p == nil {
		p = prefs.New()
	}
	m := cfg.Models
	if m.Default == "" {
		m.Default = DefaultModels.Default
	}
	if m.Coding == "" {
		m.Coding = DefaultModels.Coding
	}
	if m.Image == "" {
		m.Image = DefaultModels.Image
	}
	triggers := DefaultImageTriggers
	if cfg.ImageTriggers != nil {
		triggers = slices.Clone(cfg.ImageTriggers)
	}
	return &Orchestrator{
		store:    store,
		client:   client,
		prefs:    p,
		models:   m,
		triggers: triggers,
		timeout:  cfg.Timeout,
	}
}

// Stage holds att for the next submission, replacing any staged one.
func (o *Orchestrator) Stage(att session.Attachment) {
	o.mu.Lock()
	o.staged = &att
	o.mu.Unlock()
}

// Staged returns the staged attachment.
func (o *Orchestrator) Staged() (session.Attachment, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.staged == nil {
		return session.Attachment{}, false
	}
	return *o.staged, true
}

// Unstage drops the staged attachment.
func (o *Orchestrator) Unstage() {
	o.mu.Lock()
	o.staged = nil
	o.mu.Unlock()
}

// Outstanding returns the running request, if any.
func (o *Orchestrator) Outstanding() (*Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outstanding, o.outstanding != nil
}

// Cancel cancels the running request and reports whether there was one.
func (o *Orchestrator) Cancel() bool {
	h, ok := o.Outstanding()
	if ok {
		h.Cancel()
	}
	return ok
}

// Submit starts a generation for prompt in the given session. An empty
// sessionID creates a new session. att overrides the staged attachment;
// pass nil to use the staged one.
//
// ErrBusy and ErrEmptySubmission are returned before anything is changed.
// Once Submit returns a Handle, the user message is in the store and the
// staged attachment is cleared.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, prompt string, att *session.Attachment) (*Handle, error) {
	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	o.mu.Lock()
	busy := o.outstanding != nil
	if att == nil && o.staged != nil {
		staged := *o.staged
		att = &staged
	}
	o.mu.Unlock()

	if busy {
		return nil, ErrBusy
	}
	if strings.TrimSpace(prompt) == "" && att == nil {
		return nil, ErrEmptySubmission
	}
	if sessionID != "" {
		if _, ok := o.store.Get(sessionID); !ok {
			return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
		}
	}

	mode := o.prefs.Mode()
	if sessionID == "" {
		title := TaskTitle
		if prompt != "" {
			title = session.TitleFrom(prompt)
		}
		sessionID = o.store.CreateSessionTitled(mode, title).ID
	}
	user := session.Message{Role: session.RoleUser, Content: prompt}
	if att != nil {
		user.Attachments = []session.Attachment{*att}
	}
	if _, err := o.store.AppendMessage(sessionID, user); err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:        session.NewID(),
		SessionID: sessionID,
		Route:     SelectRoute(mode, prompt, o.triggers),
		ctx:       hctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	o.mu.Lock()
	o.outstanding = h
	o.staged = nil
	o.mu.Unlock()

	slog.Debug("orchestrator: submit", "request", h.ID, "session", sessionID, "route", h.Route.String())
	go o.run(h, prompt, att)
	return h, nil
}

func (o *Orchestrator) release(h *Handle) {
	o.mu.Lock()
	if o.outstanding == h {
		o.outstanding = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) run(h *Handle, prompt string, att *session.Attachment) {
	ctx := h.ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var out Outcome
	if h.Route == RouteImage {
		out = o.runImage(ctx, h, prompt)
	} else {
		out = o.runStream(ctx, h, prompt, att)
	}
	out.SessionID = h.SessionID

	h.outcome = out
	h.setState(out.State)
	o.release(h)
	h.cancel()
	close(h.done)

	if out.Err != nil {
		slog.Warn("orchestrator: request failed", "request", h.ID, "route", h.Route.String(), "err", out.Err)
	} else {
		slog.Debug("orchestrator: request finished", "request", h.ID, "state", out.State.String())
	}
}

// cancelled reports whether ctx ended by cancellation rather than by the
// request timeout.
func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func (o *Orchestrator) runImage(ctx context.Context, h *Handle, prompt string) Outcome {
	resp, err := o.client.GenerateOnce(ctx, &inference.Request{
		Model:       o.models.Image,
		Parts:       []inference.Part{inference.Text(prompt)},
		AspectRatio: ImageAspectRatio,
		Modalities:  []inference.Modality{inference.ModalityText, inference.ModalityImage},
	})
	if cancelled(ctx) {
		return Outcome{State: StateCancelled}
	}
	if err != nil {
		return o.fail(h.SessionID, err)
	}

	msg := session.Message{Role: session.RoleAssistant, Content: ImageFailureText}
	if img, ok := resp.FirstImage(); ok {
		b64 := base64.StdEncoding.EncodeToString(img.Data)
		msg.Content = ImageSuccessText
		msg.Attachments = []session.Attachment{{
			Kind:     session.KindImage,
			URL:      attachment.DataURL(img.MIMEType, b64),
			Data:     b64,
			MIMEType: img.MIMEType,
		}}
	}
	stored, err := o.store.AppendMessage(h.SessionID, msg)
	if err != nil {
		return Outcome{State: StateFailed, Err: err}
	}
	return Outcome{State: StateCompleted, MessageID: stored.ID}
}

func (o *Orchestrator) runStream(ctx context.Context, h *Handle, prompt string, att *session.Attachment) Outcome {
	req := &inference.Request{
		Model:             o.models.Default,
		Parts:             []inference.Part{inference.Text(prompt)},
		SystemInstruction: SystemInstruction(o.prefs.Persona(), o.prefs.UserName()),
	}
	switch h.Route {
	case RouteCoding:
		req.Model = o.models.Coding
	case RouteSearch:
		req.SearchGrounding = true
	}
	if att != nil {
		data, err := attachment.Decode(*att)
		if err != nil {
			slog.Warn("orchestrator: attachment not sent", "request", h.ID, "err", err)
		} else {
			req.Parts = append(req.Parts, &inference.Blob{MIMEType: att.MIMEType, Data: data})
		}
	}

	placeholder, err := o.store.AppendMessage(h.SessionID, session.Message{
		Role:        session.RoleAssistant,
		IsStreaming: true,
	})
	if err != nil {
		return o.fail(h.SessionID, err)
	}
	h.setState(StateStreaming)

	var (
		content   strings.Builder
		citations []string
		seen      = make(map[string]bool)
		streamErr error
		aborted   bool
	)
	for chunk, err := range o.client.GenerateStream(ctx, req) {
		if ctx.Err() != nil {
			aborted = cancelled(ctx)
			if !aborted {
				streamErr = ctx.Err()
			}
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		content.WriteString(chunk.Text)
		for _, c := range chunk.Citations {
			if c.URI != "" && !seen[c.URI] {
				seen[c.URI] = true
				citations = append(citations, c.URI)
			}
		}
		u := session.Update{Content: session.Ptr(content.String())}
		if len(citations) > 0 {
			u.CitationURLs = citations
		}
		o.store.MutateMessage(h.SessionID, placeholder.ID, u)
	}
	if streamErr != nil && cancelled(ctx) {
		aborted = true
		streamErr = nil
	}

	text := content.String()
	o.store.MutateMessage(h.SessionID, placeholder.ID, session.Update{
		IsStreaming:    session.Ptr(false),
		IsCodeDetected: session.Ptr(strings.Contains(text, codeFence)),
	})

	switch {
	case aborted:
		return Outcome{State: StateCancelled, MessageID: placeholder.ID}
	case streamErr != nil:
		return o.fail(h.SessionID, streamErr)
	}
	return Outcome{State: StateCompleted, MessageID: placeholder.ID}
}

// fail appends the failure notice for err.
func (o *Orchestrator) fail(sessionID string, err error) Outcome {
	msg, aerr := o.store.AppendMessage(sessionID, session.Message{
		Role:    session.RoleAssistant,
		Content: FailurePrefix + Describe(err),
	})
	if aerr != nil {
		slog.Warn("orchestrator: failure notice not stored", "session", sessionID, "err", aerr)
	}
	return Outcome{State: StateFailed, MessageID: msg.ID, Err: err}
}

// Describe returns the user-facing reason for a failed request.
func Describe(err error) string {
	var desc string
	var se *inference.ServiceError
	switch {
	case errors.As(err, &se):
		desc = se.Description()
	case errors.Is(err, context.DeadlineExceeded):
		desc = "Request timed out."
	case err != nil:
		desc = err.Error()
	}
	if strings.TrimSpace(desc) == "" {
		return FallbackFailure
	}
	return desc
}
