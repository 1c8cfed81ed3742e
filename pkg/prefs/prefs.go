// Package prefs holds the user's process-wide preferences: display theme,
// assistant persona, operator alias and the current interaction mode.
//
// Preferences are loaded from a kv.Store once at startup, changed through
// setters, and written back with Save.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/qqhmm2-web/NexusAI/pkg/kv"
	"github.com/qqhmm2-web/NexusAI/pkg/session"
)

// Theme selects the transcript color scheme.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeAmoled Theme = "amoled"
)

var Themes = []Theme{ThemeLight, ThemeDark, ThemeAmoled}

// Persona sets the tone of the assistant's system instruction.
type Persona string

const (
	PersonaProfessional Persona = "professional"
	PersonaCreative     Persona = "creative"
	PersonaTechnical    Persona = "technical"
	PersonaFriendly     Persona = "friendly"
)

var Personas = []Persona{PersonaProfessional, PersonaCreative, PersonaTechnical, PersonaFriendly}

const (
	DefaultTheme    = ThemeDark
	DefaultPersona  = PersonaProfessional
	DefaultUserName = "Operator"
	DefaultMode     = session.ModeGeneral
)

// Setting names accepted by Set and reported by Values.
const (
	KeyTheme   = "theme"
	KeyPersona = "persona"
	KeyUser    = "user"
	KeyMode    = "mode"
)

// Keys lists the setting names in display order.
var Keys = []string{KeyTheme, KeyPersona, KeyUser, KeyMode}

var ErrUnknownKey = errors.New("prefs: unknown setting")

// storage keys: nexus:<name>:v2
func storageKey(name string) kv.Key { return kv.Key{"nexus", name, "v2"} }

// Prefs is safe for concurrent use.
type Prefs struct {
	mu      sync.RWMutex
	theme   Theme
	persona Persona
	user    string
	mode    session.Mode
}

// New returns preferences holding the defaults.
func New() *Prefs {
	return &Prefs{
		theme:   DefaultTheme,
		persona: DefaultPersona,
		user:    DefaultUserName,
		mode:    DefaultMode,
	}
}

// Load reads preferences from store. Missing or invalid values keep their
// defaults.
func Load(ctx context.Context, store kv.Store) (*Prefs, error) {
	p := New()
	for _, name := range Keys {
		data, err := store.Get(ctx, storageKey(name))
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("prefs: load %s: %w", name, err)
		}
		// Invalid stored values are ignored rather than failing startup.
		_ = p.Set(name, string(data))
	}
	return p, nil
}

// Save writes every preference to store in one batch.
func (p *Prefs) Save(ctx context.Context, store kv.Store) error {
	values := p.Values()
	entries := make([]kv.Entry, 0, len(values))
	for _, name := range Keys {
		entries = append(entries, kv.Entry{Key: storageKey(name), Value: []byte(values[name])})
	}
	if err := store.BatchSet(ctx, entries); err != nil {
		return fmt.Errorf("prefs: save: %w", err)
	}
	return nil
}

func (p *Prefs) Theme() Theme {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.theme
}

func (p *Prefs) Persona() Persona {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.persona
}

func (p *Prefs) UserName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user
}

func (p *Prefs) Mode() session.Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

func (p *Prefs) SetTheme(t Theme) error {
	if !slices.Contains(Themes, t) {
		return fmt.Errorf("prefs: unknown theme %q", t)
	}
	p.mu.Lock()
	p.theme = t
	p.mu.Unlock()
	return nil
}

func (p *Prefs) SetPersona(v Persona) error {
	if !slices.Contains(Personas, v) {
		return fmt.Errorf("prefs: unknown persona %q", v)
	}
	p.mu.Lock()
	p.persona = v
	p.mu.Unlock()
	return nil
}

// SetUserName sets the operator alias. An empty alias resets to the
// default.
func (p *Prefs) SetUserName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultUserName
	}
	p.mu.Lock()
	p.user = name
	p.mu.Unlock()
}

func (p *Prefs) SetMode(m session.Mode) error {
	if _, err := session.ParseMode(string(m)); err != nil {
		return err
	}
	p.mu.Lock()
	p.mode = m
	p.mu.Unlock()
	return nil
}

// Set changes a preference by name.
func (p *Prefs) Set(name, value string) error {
	switch name {
	case KeyTheme:
		return p.SetTheme(Theme(value))
	case KeyPersona:
		return p.SetPersona(Persona(value))
	case KeyUser:
		p.SetUserName(value)
		return nil
	case KeyMode:
		return p.SetMode(session.Mode(value))
	}
	return fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// Values returns every preference keyed by setting name.
func (p *Prefs) Values() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return map[string]string{
		KeyTheme:   string(p.theme),
		KeyPersona: string(p.persona),
		KeyUser:    p.user,
		KeyMode:    string(p.mode),
	}
}
