package template

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// RenderMode controls how missing variables are handled
type RenderMode int

const (
	// ModeLax renders referenced but absent variables as empty (production sends)
	ModeLax RenderMode = iota
	// ModeStrict fails on any referenced variable absent from the context
	ModeStrict
)

var (
	ErrTemplateSyntax    = errors.New("template syntax error")
	ErrUndefinedVariable = errors.New("undefined variable")
)

// {{ name }} and {{ name | filter: arg }}
var varPattern = regexp.MustCompile(`\{\{\s*(\w+)(?:\s*\|.*?)?\s*\}\}`)

// first identifier of a condition or loop tag: {% if club %}, {% for x in items %}
var tagVarPattern = regexp.MustCompile(`\{%-?\s*(?:if|elsif|unless|case|for\s+\w+\s+in)\s+(\w+)`)

// Renderer renders Liquid templates against per-recipient variables.
// Parsed templates are cached by source text.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the notifier filters registered
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "friend" }} also replaces empty strings
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return defaultVal
		}
		return value
	})

	return &Renderer{engine: engine}
}

// Render renders text with vars. In ModeLax only variables the template
// references are passed through; absent ones render empty.
func (r *Renderer) Render(text string, vars map[string]any, mode RenderMode) (string, error) {
	tpl, err := r.parse(text)
	if err != nil {
		return "", err
	}

	if mode == ModeStrict {
		for _, name := range ExtractVariables(text) {
			if _, ok := vars[name]; !ok {
				return "", fmt.Errorf("%w: %s", ErrUndefinedVariable, name)
			}
		}
	}

	bindings := make(map[string]any)
	for _, name := range referencedNames(text) {
		if v, ok := vars[name]; ok {
			bindings[name] = v
		}
	}

	out, serr := tpl.RenderString(bindings)
	if serr != nil {
		return "", fmt.Errorf("%w: %s", ErrTemplateSyntax, serr.Error())
	}
	return out, nil
}

// Validate checks template syntax without rendering
func (r *Renderer) Validate(text string) (bool, string) {
	if _, err := r.parse(text); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// RenderPreview renders text for display. Each referenced variable takes its
// sample value when present, otherwise a bracketed placeholder. Never fails.
func (r *Renderer) RenderPreview(text string, sample map[string]any) (string, []string) {
	names := ExtractVariables(text)

	vars := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := sample[name]; ok {
			vars[name] = v
			continue
		}
		vars[name] = Placeholder(name)
	}

	out, err := r.Render(text, vars, ModeLax)
	if err != nil {
		out = varPattern.ReplaceAllStringFunc(text, func(m string) string {
			name := varPattern.FindStringSubmatch(m)[1]
			return fmt.Sprint(vars[name])
		})
	}
	return out, names
}

func (r *Renderer) parse(text string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(text); ok {
		return cached.(*liquid.Template), nil
	}

	tpl, serr := r.engine.ParseString(text)
	if serr != nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateSyntax, serr.Error())
	}

	r.cache.Store(text, tpl)
	return tpl, nil
}

// ExtractVariables returns the sorted unique names referenced as {{ name }}
func ExtractVariables(text string) []string {
	return uniqueMatches(varPattern, text, nil)
}

func referencedNames(text string) []string {
	seen := make(map[string]struct{})
	names := uniqueMatches(varPattern, text, seen)
	return uniqueMatches(tagVarPattern, text, seen, names...)
}

func uniqueMatches(re *regexp.Regexp, text string, seen map[string]struct{}, names ...string) []string {
	if seen == nil {
		seen = make(map[string]struct{})
	}
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	sort.Strings(names)
	return names
}
