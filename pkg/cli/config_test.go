package cli

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfigWithPath("testapp", filepath.Join(t.TempDir(), "testapp", "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	return cfg
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"1234", "****"},
		{"12345678", "********"},
		{"123456789", "1234*6789"},
		{"AIzaSyExampleKey00", "AIza**********ey00"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := MaskAPIKey(tt.key)
			if got != tt.want {
				t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestLoadConfigWithPath_NewConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "testapp", "config.yaml")

	cfg, err := LoadConfigWithPath("testapp", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}

	if cfg.AppName != "testapp" {
		t.Errorf("AppName = %q, want %q", cfg.AppName, "testapp")
	}
	if cfg.Contexts == nil {
		t.Error("Contexts should be initialized")
	}
	if _, err := os.Stat(filepath.Dir(configPath)); err != nil {
		t.Errorf("config directory should exist: %v", err)
	}
}

func TestLoadConfigWithPath_ParsesContexts(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	data := `current_context: work
contexts:
  work:
    provider: openai
    api_key: sk-test
    base_url: https://llm.example.com/v1
    timeout: 30
    models:
      default: gpt-4o-mini
      image: dall-e-3
    voice: nova
    image_triggers: ["draw"]
`
	if err := os.WriteFile(configPath, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigWithPath("testapp", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	ctx, err := cfg.GetCurrentContext()
	if err != nil {
		t.Fatalf("GetCurrentContext error: %v", err)
	}
	if ctx.Name != "work" {
		t.Errorf("Name = %q, want work", ctx.Name)
	}
	if ctx.ProviderName() != ProviderOpenAI {
		t.Errorf("Provider = %q", ctx.Provider)
	}
	if ctx.Models.Default != "gpt-4o-mini" || ctx.Models.Image != "dall-e-3" || ctx.Models.Coding != "" {
		t.Errorf("Models = %+v", ctx.Models)
	}
	if ctx.Voice != "nova" {
		t.Errorf("Voice = %q", ctx.Voice)
	}
	if !slices.Equal(ctx.ImageTriggers, []string{"draw"}) {
		t.Errorf("ImageTriggers = %v", ctx.ImageTriggers)
	}
	if ctx.TimeoutDuration() != 30*time.Second {
		t.Errorf("TimeoutDuration = %v", ctx.TimeoutDuration())
	}
}

func TestLoadConfigWithPath_Invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("contexts: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigWithPath("testapp", configPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_AddContext(t *testing.T) {
	cfg := newTestConfig(t)

	err := cfg.AddContext("production", &Context{
		APIKey:  "test-key",
		BaseURL: "https://api.example.com",
	})
	if err != nil {
		t.Fatalf("AddContext error: %v", err)
	}

	ctx := cfg.Contexts["production"]
	if ctx == nil {
		t.Fatal("Context not added")
	}
	if ctx.Name != "production" {
		t.Errorf("Context.Name = %q, want %q", ctx.Name, "production")
	}
	if cfg.CurrentContext != "production" {
		t.Errorf("first context should become current, got %q", cfg.CurrentContext)
	}

	if err := cfg.AddContext("staging", &Context{}); err != nil {
		t.Fatal(err)
	}
	if cfg.CurrentContext != "production" {
		t.Errorf("CurrentContext changed to %q", cfg.CurrentContext)
	}
}

func TestConfig_AddContext_BadProvider(t *testing.T) {
	cfg := newTestConfig(t)
	err := cfg.AddContext("x", &Context{Provider: "claude"})
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("err = %v", err)
	}
	if len(cfg.Contexts) != 0 {
		t.Error("invalid context was stored")
	}
}

func TestConfig_DeleteContext(t *testing.T) {
	cfg := newTestConfig(t)

	cfg.AddContext("ctx1", &Context{APIKey: "key1"})
	cfg.AddContext("ctx2", &Context{APIKey: "key2"})
	cfg.UseContext("ctx1")

	if err := cfg.DeleteContext("ctx2"); err != nil {
		t.Fatalf("DeleteContext error: %v", err)
	}
	if _, ok := cfg.Contexts["ctx2"]; ok {
		t.Error("Context should be deleted")
	}

	if err := cfg.DeleteContext("ctx1"); err != nil {
		t.Fatalf("DeleteContext error: %v", err)
	}
	if cfg.CurrentContext != "" {
		t.Errorf("CurrentContext should be cleared, got %q", cfg.CurrentContext)
	}

	if err := cfg.DeleteContext("nonexistent"); err == nil {
		t.Error("DeleteContext should fail for nonexistent context")
	}
}

func TestConfig_UseContext(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.AddContext("a", &Context{})
	cfg.AddContext("b", &Context{})

	if err := cfg.UseContext("b"); err != nil {
		t.Fatalf("UseContext error: %v", err)
	}
	if cfg.CurrentContext != "b" {
		t.Errorf("CurrentContext = %q, want b", cfg.CurrentContext)
	}
	if err := cfg.UseContext("missing"); err == nil {
		t.Error("UseContext should fail for nonexistent context")
	}
}

func TestConfig_ResolveContext(t *testing.T) {
	cfg := newTestConfig(t)

	if _, err := cfg.ResolveContext(""); err == nil || !strings.Contains(err.Error(), "no current context") {
		t.Fatalf("err = %v", err)
	}

	cfg.AddContext("default", &Context{APIKey: "k1"})
	cfg.AddContext("other", &Context{APIKey: "k2"})

	ctx, err := cfg.ResolveContext("")
	if err != nil || ctx.APIKey != "k1" {
		t.Fatalf("ResolveContext(\"\") = %v, %v", ctx, err)
	}
	ctx, err = cfg.ResolveContext("other")
	if err != nil || ctx.APIKey != "k2" {
		t.Fatalf("ResolveContext(other) = %v, %v", ctx, err)
	}
	if _, err := cfg.ResolveContext("nope"); err == nil {
		t.Fatal("expected error for unknown context")
	}
}

func TestConfig_ListContexts(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.AddContext("zeta", &Context{})
	cfg.AddContext("alpha", &Context{})
	cfg.AddContext("mid", &Context{})

	got := cfg.ListContexts()
	want := []string{"alpha", "mid", "zeta"}
	if !slices.Equal(got, want) {
		t.Errorf("ListContexts = %v, want %v", got, want)
	}
}

func TestConfig_Persistence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg1, err := LoadConfigWithPath("testapp", configPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg1.AddContext("persistent", &Context{
		Provider: ProviderGemini,
		APIKey:   "persistent-key",
		Models:   Models{Speech: "tts-model"},
	})

	cfg2, err := LoadConfigWithPath("testapp", configPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := cfg2.GetContext("persistent")
	if err != nil {
		t.Fatal(err)
	}
	if ctx.APIKey != "persistent-key" || ctx.Models.Speech != "tts-model" {
		t.Errorf("reloaded context = %+v", ctx)
	}
	if cfg2.CurrentContext != "persistent" {
		t.Errorf("CurrentContext = %q", cfg2.CurrentContext)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestContext_ResolveAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvGeminiAPIKey, "gem")
	t.Setenv(EnvOpenAIAPIKey, "oai")

	if got := (&Context{APIKey: "own"}).ResolveAPIKey(); got != "own" {
		t.Errorf("explicit key = %q", got)
	}
	if got := (&Context{}).ResolveAPIKey(); got != "gem" {
		t.Errorf("gemini fallback = %q", got)
	}
	if got := (&Context{Provider: ProviderOpenAI}).ResolveAPIKey(); got != "oai" {
		t.Errorf("openai fallback = %q", got)
	}
	var nilCtx *Context
	if got := nilCtx.ResolveAPIKey(); got != "gem" {
		t.Errorf("nil context = %q", got)
	}

	t.Setenv(EnvAPIKey, "shared")
	if got := (&Context{Provider: ProviderOpenAI}).ResolveAPIKey(); got != "shared" {
		t.Errorf("API_KEY should win, got %q", got)
	}
}

func TestContext_TimeoutDuration(t *testing.T) {
	if d := (&Context{}).TimeoutDuration(); d != 0 {
		t.Errorf("zero timeout = %v", d)
	}
	if d := (&Context{Timeout: -5}).TimeoutDuration(); d != 0 {
		t.Errorf("negative timeout = %v", d)
	}
	if d := (&Context{Timeout: 90}).TimeoutDuration(); d != 90*time.Second {
		t.Errorf("timeout = %v", d)
	}
}
