package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/qqhmm2-web/NexusAI/pkg/attachment"
	"github.com/qqhmm2-web/NexusAI/pkg/cli"
	"github.com/qqhmm2-web/NexusAI/pkg/orchestrator"
	"github.com/qqhmm2-web/NexusAI/pkg/session"
)

// presets are the quick-start prompts offered for an empty session.
var presets = map[string]struct {
	Title string
	Mode  session.Mode
}{
	"coding":   {"Code Synthesis", session.ModeCoding},
	"creative": {"Visionary Art", session.ModeCreative},
	"search":   {"Live Intelligence", session.ModeSearch},
	"general":  {"Logic Flows", session.ModeGeneral},
}

// presetPrompt prefixes prompt the way a quick-start card does. With an
// empty prompt it returns the bare prefix a card pre-fills.
func presetPrompt(title, prompt string) string {
	return "Initialize " + title + " sequence: " + prompt
}

var chatCmd = &cobra.Command{
	Use:   "chat [prompt...]",
	Short: "Send a prompt, or start an interactive session",
	Long: `Send a prompt to the active session and stream the answer.

Without a prompt, chat reads prompts from stdin one line at a time. Lines
starting with '/' are commands:
  /new            start a new session with the next prompt
  /mode MODE      switch mode (general, coding, creative, search)
  /attach FILE    attach an image to the next prompt
  /sessions       list sessions
  /quit           exit

Ctrl-C cancels the answer being streamed. A second Ctrl-C exits.

With --preset and no prompt, the interactive session starts with the
preset's prefix pre-filled for the first prompt.

Examples:
  nexus chat "what is a monad"
  nexus chat --new --mode search "latest Go release"
  nexus chat --attach diagram.png "explain this diagram"
  nexus chat --preset creative "a lighthouse at dusk" --image-out art.png`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().String("session", "", "session ID to continue (default: active session)")
	chatCmd.Flags().Bool("new", false, "start a new session")
	chatCmd.Flags().String("mode", "", "mode for this and later prompts (general, coding, creative, search)")
	chatCmd.Flags().String("attach", "", "image file to attach")
	chatCmd.Flags().String("preset", "", "quick-start preset (coding, creative, search, general)")
	chatCmd.Flags().String("image-out", "", "write a generated image to this file")
}

type chatOptions struct {
	sessionID string
	newChat   bool
	imageOut  string
	// prefill is prepended to the next prompt typed in the REPL.
	prefill string
}

func runChat(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	newChat, _ := cmd.Flags().GetBool("new")
	modeName, _ := cmd.Flags().GetString("mode")
	attachPath, _ := cmd.Flags().GetString("attach")
	presetName, _ := cmd.Flags().GetString("preset")
	imageOut, _ := cmd.Flags().GetString("image-out")

	if sessionID != "" && newChat {
		return fmt.Errorf("--session and --new are mutually exclusive")
	}

	cctx, err := getContext()
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := newClient(ctx, cctx)
	if err != nil {
		return err
	}
	orch := orchestrator.New(a.store, client, a.prefs, orchestratorConfig(cctx))

	prompt := strings.Join(args, " ")
	var prefill string
	if presetName != "" {
		p, ok := presets[presetName]
		if !ok {
			return fmt.Errorf("unknown preset %q (want coding, creative, search or general)", presetName)
		}
		modeName = string(p.Mode)
		prefill = presetPrompt(p.Title, "")
	}
	if modeName != "" {
		mode, err := session.ParseMode(modeName)
		if err != nil {
			return err
		}
		if err := a.prefs.SetMode(mode); err != nil {
			return err
		}
		if err := a.savePrefs(ctx); err != nil {
			return err
		}
	}
	if attachPath != "" {
		att, err := attachment.Encode(attachPath)
		if err != nil {
			return err
		}
		orch.Stage(att)
	}

	opts := chatOptions{sessionID: sessionID, newChat: newChat, imageOut: imageOut}
	if sessionID != "" {
		if err := a.store.SetActive(sessionID); err != nil {
			return err
		}
	}

	// First interrupt cancels the outstanding request, the next one exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-sigCh:
				if !orch.Cancel() {
					stop()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	out := cmd.OutOrStdout()
	if prompt != "" || attachPath != "" {
		return submitAndRender(ctx, out, a, orch, &opts, prefill+prompt)
	}
	opts.prefill = prefill
	return runREPL(ctx, cmd.InOrStdin(), out, a, orch, &opts)
}

// chatResult is the --json form of one finished request.
type chatResult struct {
	State     string           `json:"state"`
	SessionID string           `json:"session_id"`
	Route     string           `json:"route"`
	Message   *session.Message `json:"message,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// submitAndRender submits one prompt, streams the answer to out and waits
// for the request to finish.
func submitAndRender(ctx context.Context, out io.Writer, a *app, orch *orchestrator.Orchestrator, opts *chatOptions, prompt string) error {
	target := opts.sessionID
	if !opts.newChat && target == "" {
		target = a.store.Active()
	}

	var printer *streamPrinter
	if !outputJSON {
		printer = newStreamPrinter(out, a.store, a.transcript())
		cancel := a.store.Watch(printer.onChange)
		defer cancel()
	}

	h, err := orch.Submit(ctx, target, prompt, nil)
	if err != nil {
		return err
	}
	if printer != nil {
		printer.follow(h.SessionID)
	}
	// Later prompts continue the session this one landed in.
	opts.sessionID, opts.newChat = h.SessionID, false

	outcome, err := h.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}

	msg, hasMsg := a.store.Message(outcome.SessionID, outcome.MessageID)
	if opts.imageOut != "" && hasMsg {
		if err := writeImage(opts.imageOut, msg); err != nil {
			return err
		}
	}

	if outputJSON {
		res := chatResult{
			State:     outcome.State.String(),
			SessionID: outcome.SessionID,
			Route:     h.Route.String(),
		}
		if hasMsg {
			res.Message = &msg
		}
		if outcome.Err != nil {
			res.Error = orchestrator.Describe(outcome.Err)
		}
		return outputResult(out, res)
	}
	if outcome.State == orchestrator.StateCancelled {
		fmt.Fprintln(out, a.transcript().Styles.Help.Render("(cancelled)"))
	}
	return nil
}

// writeImage stores the first image attachment of msg at path.
func writeImage(path string, msg session.Message) error {
	for _, att := range msg.Attachments {
		if att.Kind != session.KindImage {
			continue
		}
		data, err := attachment.Decode(att)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		cli.PrintSuccess("Image saved to %s (%s)", path, cli.FormatBytes(int64(len(data))))
		return nil
	}
	cli.PrintWarning("No image in the answer; %s not written", path)
	return nil
}

func runREPL(ctx context.Context, in io.Reader, out io.Writer, a *app, orch *orchestrator.Orchestrator, opts *chatOptions) error {
	tr := a.transcript()
	fmt.Fprintln(out, tr.Styles.Title.Render("Nexus")+tr.Styles.Help.Render(
		fmt.Sprintf("  mode %s · persona %s · /quit to exit", a.prefs.Mode(), a.prefs.Persona())))

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, tr.Styles.Label.Render("› ")+opts.prefill)
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := replCommand(ctx, out, a, orch, opts, line)
			if err != nil {
				cli.PrintError("%v", err)
			}
			if quit {
				return nil
			}
			continue
		}
		prompt := opts.prefill + line
		opts.prefill = ""
		if err := submitAndRender(ctx, out, a, orch, opts, prompt); err != nil {
			if errors.Is(err, orchestrator.ErrBusy) {
				cli.PrintWarning("A request is still running")
				continue
			}
			cli.PrintError("%v", err)
		}
	}
}

func replCommand(ctx context.Context, out io.Writer, a *app, orch *orchestrator.Orchestrator, opts *chatOptions, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return true, nil
	case "new":
		opts.sessionID, opts.newChat = "", true
		cli.PrintInfo("The next prompt starts a new session")
	case "mode":
		mode, err := session.ParseMode(arg)
		if err != nil {
			return false, err
		}
		if err := a.prefs.SetMode(mode); err != nil {
			return false, err
		}
		if err := a.savePrefs(ctx); err != nil {
			return false, err
		}
		cli.PrintSuccess("Mode set to %s", mode)
	case "attach":
		att, err := attachment.Encode(arg)
		if err != nil {
			return false, err
		}
		orch.Stage(att)
		cli.PrintSuccess("Attached %s", att.MIMEType)
	case "sessions":
		fmt.Fprint(out, a.transcript().SessionList(a.store.List(), a.store.Active(), 40, timeNow()))
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}

// streamPrinter writes assistant messages of one session to a terminal as
// the store changes. Content grows monotonically while a message streams,
// so only the unseen suffix is printed.
type streamPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	store   *session.Store
	tr      *cli.Transcript
	session string
	printed map[string]int
	closed  map[string]bool
	pending []session.Change
}

func newStreamPrinter(w io.Writer, store *session.Store, tr *cli.Transcript) *streamPrinter {
	return &streamPrinter{
		w:       w,
		store:   store,
		tr:      tr,
		printed: make(map[string]int),
		closed:  make(map[string]bool),
	}
}

// follow sets the session to print. Changes seen before the session was
// known are replayed.
func (p *streamPrinter) follow(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = sessionID
	pending := p.pending
	p.pending = nil
	for _, c := range pending {
		p.render(c)
	}
}

func (p *streamPrinter) onChange(c session.Change) {
	if c.MessageID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == "" {
		p.pending = append(p.pending, c)
		return
	}
	p.render(c)
}

func (p *streamPrinter) render(c session.Change) {
	if c.SessionID != p.session || p.closed[c.MessageID] {
		return
	}
	msg, ok := p.store.Message(c.SessionID, c.MessageID)
	if !ok || msg.Role == session.RoleUser {
		return
	}
	n, seen := p.printed[msg.ID]
	if !seen {
		fmt.Fprintln(p.w, p.tr.Header(msg))
	}
	if len(msg.Content) > n {
		fmt.Fprint(p.w, msg.Content[n:])
		n = len(msg.Content)
	}
	p.printed[msg.ID] = n
	if !msg.IsStreaming {
		p.closed[msg.ID] = true
		fmt.Fprintln(p.w)
		if f := p.tr.Footer(msg); f != "" {
			fmt.Fprintln(p.w, f)
		}
	}
}
