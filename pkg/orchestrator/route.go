package orchestrator

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/qqhmm2-web/NexusAI/pkg/prefs"
	"github.com/qqhmm2-web/NexusAI/pkg/session"
)

// Route is the generation path chosen for a submission.
type Route int

const (
	RouteGeneral Route = iota
	RouteCoding
	RouteSearch
	RouteImage
)

func (r Route) String() string {
	switch r {
	case RouteGeneral:
		return "general"
	case RouteCoding:
		return "coding"
	case RouteSearch:
		return "search"
	case RouteImage:
		return "image"
	}
	return "unknown"
}

// DefaultImageTriggers are the phrases that send a prompt to image
// synthesis regardless of mode.
var DefaultImageTriggers = []string{"generate image", "нарисуй"}

// SelectRoute picks the generation path. The first match wins: creative
// mode or a trigger phrase (case-insensitive) selects image synthesis,
// then search and coding modes select their streams.
func SelectRoute(mode session.Mode, prompt string, triggers []string) Route {
	if mode == session.ModeCreative {
		return RouteImage
	}
	lower := strings.ToLower(prompt)
	for _, t := range triggers {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			return RouteImage
		}
	}
	switch mode {
	case session.ModeSearch:
		return RouteSearch
	case session.ModeCoding:
		return RouteCoding
	}
	return RouteGeneral
}

var systemInstructionTpl = template.Must(
	template.New("systemInstruction").
		Funcs(template.FuncMap{"upper": strings.ToUpper}).
		Parse(`You are Nexus AI Pro, the ultimate reasoning assistant.
Tone: {{ upper .Persona }}. Formatting: Use rich markdown, bold text for emphasis, and code blocks with language names.
Identity: You are superior to standard models, providing high-fidelity intelligence.
{{- with .User }}
Operator: {{ . }}.{{ end }}`),
)

// SystemInstruction renders the instruction sent with every streamed
// request.
func SystemInstruction(persona prefs.Persona, user string) string {
	var buf bytes.Buffer
	if err := systemInstructionTpl.Execute(&buf, struct {
		Persona string
		User    string
	}{string(persona), user}); err != nil {
		// The template is static and only takes strings.
		panic(err)
	}
	return buf.String()
}
