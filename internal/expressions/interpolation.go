package expressions

import (
	"strings"
	"sync"
)

// Interpolator resolves {path} placeholders in node templates against the
// session slots. Templates are tokenized once and cached; rendering walks
// the token list and substitutes placeholder values.
// Thread-safe: the token cache is guarded and shared across goroutines.
type Interpolator struct {
	mu    sync.RWMutex
	cache map[string][]token
}

type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenPlaceholder
)

type token struct {
	kind tokenKind
	text string // literal text, or the placeholder path
}

// NewInterpolator creates an Interpolator with an empty template cache.
func NewInterpolator() *Interpolator {
	return &Interpolator{cache: make(map[string][]token)}
}

// Interpolate renders a template against the slots. A placeholder whose path
// does not resolve stays in the output verbatim, braces included.
func (in *Interpolator) Interpolate(template string, slots map[string]any) string {
	if !strings.Contains(template, "{") {
		return template
	}

	tokens := in.tokenize(template)

	var b strings.Builder
	b.Grow(len(template))
	for _, t := range tokens {
		if t.kind == tokenLiteral {
			b.WriteString(t.text)
			continue
		}
		val, ok := LookupPath(asAny(slots), t.text)
		if !ok {
			b.WriteByte('{')
			b.WriteString(t.text)
			b.WriteByte('}')
			continue
		}
		b.WriteString(Stringify(val))
	}
	return b.String()
}

// InterpolateMap renders every value of a string map, for headers and other
// keyed templates.
func (in *Interpolator) InterpolateMap(templates map[string]string, slots map[string]any) map[string]string {
	if len(templates) == 0 {
		return nil
	}
	out := make(map[string]string, len(templates))
	for k, v := range templates {
		out[k] = in.Interpolate(v, slots)
	}
	return out
}

// tokenize returns the cached token list for a template, scanning it on the
// first request.
func (in *Interpolator) tokenize(template string) []token {
	in.mu.RLock()
	if tokens, ok := in.cache[template]; ok {
		in.mu.RUnlock()
		return tokens
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()

	// Double-check after acquiring write lock.
	if tokens, ok := in.cache[template]; ok {
		return tokens
	}

	tokens := scan(template)
	in.cache[template] = tokens
	return tokens
}

// scan splits a template into literal and placeholder tokens in one pass.
// A '{' with no matching '}' stays literal, as does a brace pair whose
// content could not be a path.
func scan(template string) []token {
	var tokens []token
	rest := template

	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(rest[open+1:], '}')
		if closing < 0 {
			break
		}
		inner := rest[open+1 : open+1+closing]
		if inner == "" || strings.ContainsAny(inner, "{ \t\n") {
			// Not a placeholder. Emit through the '{' and keep scanning.
			tokens = append(tokens, token{kind: tokenLiteral, text: rest[:open+1]})
			rest = rest[open+1:]
			continue
		}
		if open > 0 {
			tokens = append(tokens, token{kind: tokenLiteral, text: rest[:open]})
		}
		tokens = append(tokens, token{kind: tokenPlaceholder, text: inner})
		rest = rest[open+1+closing+1:]
	}

	if rest != "" {
		tokens = append(tokens, token{kind: tokenLiteral, text: rest})
	}
	return tokens
}

func asAny(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
