package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/qqhmm2-web/NexusAI/pkg/cli"
	"github.com/qqhmm2-web/NexusAI/pkg/inference"
	"github.com/qqhmm2-web/NexusAI/pkg/kv"
	"github.com/qqhmm2-web/NexusAI/pkg/orchestrator"
	"github.com/qqhmm2-web/NexusAI/pkg/prefs"
	"github.com/qqhmm2-web/NexusAI/pkg/session"
	"github.com/qqhmm2-web/NexusAI/pkg/speech"
)

// testKVOverride is set during tests to share a KV instance across commands.
var testKVOverride kv.Store

// testClientOverride is set during tests to replace the inference backend.
var testClientOverride inference.Client

// openAIDefaults are used for openai contexts that leave models unset.
var openAIDefaults = struct {
	orchestrator.Models
	Speech string
	Voice  string
}{
	Models: orchestrator.Models{
		Default: "gpt-4o-mini",
		Coding:  "gpt-4o",
		Image:   "gpt-image-1",
	},
	Speech: "gpt-4o-mini-tts",
	Voice:  "alloy",
}

// app is the state shared by commands that touch sessions: the durable KV,
// the in-memory session store restored from it, and the preferences.
type app struct {
	kv      kv.Store
	store   *session.Store
	archive *session.Archive
	prefs   *prefs.Prefs

	stopSave func()
	ownsKV   bool
}

// openApp opens the data directory, restores the archived sessions and
// preferences, and keeps the archive in sync with every store change until
// Close.
func openApp(ctx context.Context) (*app, error) {
	a := &app{}
	if testKVOverride != nil {
		a.kv = testKVOverride
	} else {
		dir, err := getDataDir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := kv.NewBadger(kv.BadgerOptions{Dir: dir})
		if err != nil {
			return nil, fmt.Errorf("failed to open data directory %s: %w", dir, err)
		}
		a.kv = store
		a.ownsKV = true
	}

	a.archive = session.NewArchive(a.kv)
	snap, err := a.archive.Load(ctx)
	if err != nil {
		a.closeKV()
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	a.store = session.NewStore()
	a.store.Restore(snap)

	a.prefs, err = prefs.Load(ctx, a.kv)
	if err != nil {
		a.closeKV()
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	a.stopSave = a.archive.AutoSave(ctx, a.store)
	slog.Debug("nexus: data loaded", "sessions", a.store.Len(), "active", snap.Active)
	return a, nil
}

// savePrefs flushes the preferences to the KV store.
func (a *app) savePrefs(ctx context.Context) error {
	if err := a.prefs.Save(ctx, a.kv); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

func (a *app) closeKV() error {
	if !a.ownsKV {
		return nil
	}
	return a.kv.Close()
}

// Close stops autosave, writes a final snapshot and releases the store.
func (a *app) Close() error {
	if a.stopSave != nil {
		a.stopSave()
	}
	err := a.archive.Save(context.Background(), a.store.Snapshot())
	return errors.Join(err, a.closeKV())
}

// resolveSession returns id if the session exists, or the active session
// when id is empty.
func (a *app) resolveSession(id string) (session.Session, error) {
	if id == "" {
		id = a.store.Active()
		if id == "" {
			return session.Session{}, fmt.Errorf("no active session. Pass a session ID or run 'nexus sessions use'")
		}
	}
	sess, ok := a.store.Get(id)
	if !ok {
		return session.Session{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	return sess, nil
}

// transcript returns a renderer for the current theme and operator name.
func (a *app) transcript() *cli.Transcript {
	return cli.NewTranscript(string(a.prefs.Theme()), a.prefs.UserName())
}

// newClient builds the inference backend of the selected context.
func newClient(ctx context.Context, c *cli.Context) (inference.Client, error) {
	if testClientOverride != nil {
		return testClientOverride, nil
	}
	key := c.ResolveAPIKey()
	if key == "" {
		return nil, fmt.Errorf("no API key for context %q: run 'nexus config add-context' or set %s", c.Name, cli.EnvAPIKey)
	}
	if c.ProviderName() == cli.ProviderOpenAI {
		client, err := inference.NewOpenAI(inference.OpenAIConfig{APIKey: key, BaseURL: c.BaseURL})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	client, err := inference.NewGemini(ctx, inference.GeminiConfig{APIKey: key, BaseURL: c.BaseURL})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// orchestratorConfig maps a context onto orchestrator settings.
func orchestratorConfig(c *cli.Context) orchestrator.Config {
	cfg := orchestrator.Config{
		Models: orchestrator.Models{
			Default: c.Models.Default,
			Coding:  c.Models.Coding,
			Image:   c.Models.Image,
		},
		ImageTriggers: c.ImageTriggers,
		Timeout:       c.TimeoutDuration(),
	}
	if c.ProviderName() == cli.ProviderOpenAI {
		if cfg.Models.Default == "" {
			cfg.Models.Default = openAIDefaults.Default
		}
		if cfg.Models.Coding == "" {
			cfg.Models.Coding = openAIDefaults.Coding
		}
		if cfg.Models.Image == "" {
			cfg.Models.Image = openAIDefaults.Image
		}
	}
	return cfg
}

// speechOptions maps a context onto synthesizer options.
func speechOptions(c *cli.Context) []speech.Option {
	model, voice := c.Models.Speech, c.Voice
	if c.ProviderName() == cli.ProviderOpenAI {
		if model == "" {
			model = openAIDefaults.Speech
		}
		if voice == "" {
			voice = openAIDefaults.Voice
		}
	}
	var opts []speech.Option
	if model != "" {
		opts = append(opts, speech.WithModel(model))
	}
	if voice = strings.TrimSpace(voice); voice != "" {
		opts = append(opts, speech.WithVoice(voice))
	}
	return opts
}
