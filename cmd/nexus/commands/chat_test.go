package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qqhmm2-web/NexusAI/pkg/inference"
	"github.com/qqhmm2-web/NexusAI/pkg/session"
)

// loadStore reads the archived sessions the way the next command would.
func loadStore(t *testing.T, env *testEnv) *session.Store {
	t.Helper()
	snap, err := session.NewArchive(env.kv).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s := session.NewStore()
	s.Restore(snap)
	return s
}

func TestChatStreamsAndPersists(t *testing.T) {
	env := setupTestEnv(t)
	env.client.chunks = []string{"Hello", ", operator", "."}

	stdout, stderr, code := env.run(t, "chat", "say", "hello")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Hello, operator.") {
		t.Fatalf("stdout = %q", stdout)
	}

	store := loadStore(t, env)
	list := store.List()
	if len(list) != 1 {
		t.Fatalf("sessions = %d, want 1", len(list))
	}
	sess := list[0]
	if sess.Title != "say hello" {
		t.Errorf("title = %q", sess.Title)
	}
	if store.Active() != sess.ID {
		t.Errorf("active = %q, want %q", store.Active(), sess.ID)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("messages = %+v", sess.Messages)
	}
	if m := sess.Messages[1]; m.Content != "Hello, operator." || m.IsStreaming {
		t.Errorf("assistant = %+v", m)
	}
}

func TestChatContinuesActiveSession(t *testing.T) {
	env := setupTestEnv(t)
	env.client.chunks = []string{"one"}
	env.run(t, "chat", "first")
	env.client.chunks = []string{"two"}
	env.run(t, "chat", "second")

	list := loadStore(t, env).List()
	if len(list) != 1 || len(list[0].Messages) != 4 {
		t.Fatalf("sessions = %+v", list)
	}

	env.run(t, "chat", "--new", "third")
	if n := len(loadStore(t, env).List()); n != 2 {
		t.Fatalf("sessions after --new = %d, want 2", n)
	}
}

func TestChatModeAndSearchCitations(t *testing.T) {
	env := setupTestEnv(t)
	env.client.chunks = []string{"Sunny"}
	env.client.citations = []inference.Citation{
		{URI: "https://weather.example/oslo"},
		{URI: "https://weather.example/oslo"},
		{URI: "https://met.example"},
	}

	stdout, stderr, code := env.run(t, "chat", "--mode", "search", "weather in Oslo")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !env.client.lastRequest(t).SearchGrounding {
		t.Error("search grounding not requested")
	}
	if !strings.Contains(stdout, "Sources:") || strings.Count(stdout, "https://weather.example/oslo") != 1 {
		t.Errorf("stdout = %q", stdout)
	}

	// The mode sticks for the next invocation.
	stdout, _, _ = env.run(t, "prefs", "show")
	if !strings.Contains(stdout, "mode: search") {
		t.Errorf("prefs = %s", stdout)
	}
}

func TestChatImagePreset(t *testing.T) {
	env := setupTestEnv(t)
	env.client.image = []byte("\x89PNG fake")
	out := filepath.Join(t.TempDir(), "art.png")

	stdout, stderr, code := env.run(t, "chat", "--preset", "creative", "a lighthouse", "--image-out", out)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, env.client.image) {
		t.Errorf("image = %q", got)
	}
	if !strings.Contains(stdout, "image/png") {
		t.Errorf("stdout = %q", stdout)
	}
	req := env.client.lastRequest(t)
	if p := req.PromptText(); p != "Initialize Visionary Art sequence: a lighthouse" {
		t.Errorf("prompt = %q", p)
	}
}

func TestChatServiceErrorBecomesMessage(t *testing.T) {
	env := setupTestEnv(t)
	env.client.chunks = []string{"partial"}
	env.client.streamErr = &inference.ServiceError{Op: "stream", Err: errors.New("quota exhausted")}

	stdout, stderr, code := env.run(t, "chat", "hi")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Protocol Link Failure: quota exhausted") {
		t.Fatalf("stdout = %q", stdout)
	}
	msgs := loadStore(t, env).List()[0].Messages
	if len(msgs) != 3 || msgs[1].Content != "partial" || msgs[1].IsStreaming {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestChatJSON(t *testing.T) {
	env := setupTestEnv(t)
	env.client.chunks = []string{"```go\nfmt.Println()\n```"}

	stdout, stderr, code := env.run(t, "chat", "--json", "--mode", "coding", "print")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var res chatResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if res.State != "completed" || res.Route != "coding" || res.Message == nil {
		t.Fatalf("result = %+v", res)
	}
	if !res.Message.IsCodeDetected {
		t.Error("code not detected")
	}
}

func TestChatAttach(t *testing.T) {
	env := setupTestEnv(t)
	env.client.chunks = []string{"A cat."}
	img := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(img, []byte("\x89PNG\r\n\x1a\n0000"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, stderr, code := env.run(t, "chat", "--attach", img, "what is this"); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	user := loadStore(t, env).List()[0].Messages[0]
	if len(user.Attachments) != 1 || user.Attachments[0].MIMEType != "image/png" {
		t.Fatalf("attachments = %+v", user.Attachments)
	}
}

func TestChatUnknownSession(t *testing.T) {
	env := setupTestEnv(t)

	_, stderr, code := env.run(t, "chat", "--session", "nope", "hi")
	if code == 0 || !strings.Contains(stderr, "not found") {
		t.Fatalf("exit %d: %s", code, stderr)
	}
}

func TestChatREPL(t *testing.T) {
	env := setupTestEnv(t)
	env.client.chunks = []string{"pong"}

	in := strings.NewReader("ping\n/new\n/mode coding\nagain\n/quit\n")
	stdout, stderr, code := runCmdWithInput(t, in, "--config", env.configPath, "chat")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if strings.Count(stdout, "pong") != 2 {
		t.Fatalf("stdout = %q", stdout)
	}
	list := loadStore(t, env).List()
	if len(list) != 2 {
		t.Fatalf("sessions = %d, want 2", len(list))
	}
	if list[0].Mode != session.ModeCoding || list[1].Mode != session.ModeGeneral {
		t.Errorf("modes = %s, %s", list[0].Mode, list[1].Mode)
	}
}

func TestChatPresetWithoutPromptPrefillsREPL(t *testing.T) {
	env := setupTestEnv(t)
	env.client.chunks = []string{"ok"}

	in := strings.NewReader("/sessions\nsort a slice\nthen reverse it\n/quit\n")
	stdout, stderr, code := runCmdWithInput(t, in, "--config", env.configPath, "chat", "--preset", "coding")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "› Initialize Code Synthesis sequence: ") {
		t.Errorf("prefill not shown: %q", stdout)
	}

	reqs := env.client.requests
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if p := reqs[0].PromptText(); p != "Initialize Code Synthesis sequence: sort a slice" {
		t.Errorf("first prompt = %q", p)
	}
	if p := reqs[1].PromptText(); p != "then reverse it" {
		t.Errorf("second prompt = %q", p)
	}
	if mode := loadStore(t, env).List()[0].Mode; mode != session.ModeCoding {
		t.Errorf("mode = %s", mode)
	}
}

func TestChatPresetAloneSubmitsNothing(t *testing.T) {
	env := setupTestEnv(t)

	in := strings.NewReader("/quit\n")
	if _, stderr, code := runCmdWithInput(t, in, "--config", env.configPath, "chat", "--preset", "search"); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if n := len(env.client.requests); n != 0 {
		t.Fatalf("requests = %d, want 0", n)
	}
	if n := loadStore(t, env).Len(); n != 0 {
		t.Fatalf("sessions = %d, want 0", n)
	}
	stdout, _, _ := env.run(t, "prefs", "show")
	if !strings.Contains(stdout, "mode: search") {
		t.Errorf("prefs = %s", stdout)
	}
}
