// Package spintax parses and renders {a|b|c} message variations.
//
// Groups are single level: a '{' inside a group is reported by Validate and
// treated as literal text by Render.
package spintax

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
)

// segment is either literal text or a group of options.
type segment struct {
	text    string
	options []string
	group   bool
}

// Engine renders spintax with its own random source.
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine returns an engine seeded with the given values. Use it when
// reproducible output is needed.
func NewEngine(seed1, seed2 uint64) *Engine {
	return &Engine{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

var defaultEngine = &Engine{}

func (e *Engine) intN(n int) int {
	if e.rng == nil {
		return rand.IntN(n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.IntN(n)
}

// Validate checks that braces balance, every group has at least one '|' and
// no option is blank.
func Validate(text string) (bool, []string) {
	var errs []string
	start := -1
	for i, r := range text {
		switch r {
		case '{':
			if start >= 0 {
				errs = append(errs, fmt.Sprintf("nested '{' at position %d", i))
				continue
			}
			start = i
		case '}':
			if start < 0 {
				errs = append(errs, fmt.Sprintf("unmatched '}' at position %d", i))
				continue
			}
			body := text[start+1 : i]
			if !strings.Contains(body, "|") {
				errs = append(errs, fmt.Sprintf("group at position %d has no '|'", start))
			} else {
				for _, opt := range strings.Split(body, "|") {
					if strings.TrimSpace(opt) == "" {
						errs = append(errs, fmt.Sprintf("group at position %d has an empty option", start))
						break
					}
				}
			}
			start = -1
		}
	}
	if start >= 0 {
		errs = append(errs, fmt.Sprintf("unmatched '{' at position %d", start))
	}
	return len(errs) == 0, errs
}

// parse splits text into literal and group segments. Unbalanced braces and
// braces without a '|' stay literal.
func parse(text string) []segment {
	var segs []segment
	var lit strings.Builder
	rest := text
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			lit.WriteString(rest)
			break
		}
		closeIdx := strings.IndexByte(rest[open+1:], '}')
		if closeIdx < 0 {
			lit.WriteString(rest)
			break
		}
		closeIdx += open + 1
		body := rest[open+1 : closeIdx]
		if strings.IndexByte(body, '{') >= 0 {
			// nested open brace: keep the outer one literal and retry from the inner
			inner := open + 1 + strings.IndexByte(body, '{')
			lit.WriteString(rest[:inner])
			rest = rest[inner:]
			continue
		}
		if strings.IndexByte(body, '|') < 0 {
			// {key} without options is a placeholder, not a group
			lit.WriteString(rest[:closeIdx+1])
			rest = rest[closeIdx+1:]
			continue
		}
		lit.WriteString(rest[:open])
		if lit.Len() > 0 {
			segs = append(segs, segment{text: lit.String()})
			lit.Reset()
		}
		opts := strings.Split(body, "|")
		for i := range opts {
			opts[i] = strings.TrimSpace(opts[i])
		}
		segs = append(segs, segment{options: opts, group: true})
		rest = rest[closeIdx+1:]
	}
	if lit.Len() > 0 {
		segs = append(segs, segment{text: lit.String()})
	}
	return segs
}

// CountVariations returns the product of option counts across all groups.
// Text without groups yields 1. The result saturates at math.MaxInt.
func CountVariations(text string) int {
	total := 1
	for _, s := range parse(text) {
		if !s.group {
			continue
		}
		n := len(s.options)
		if total > math.MaxInt/n {
			return math.MaxInt
		}
		total *= n
	}
	return total
}

// Render replaces every group with one uniformly chosen, trimmed option.
func (e *Engine) Render(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, s := range parse(text) {
		if !s.group {
			b.WriteString(s.text)
			continue
		}
		b.WriteString(s.options[e.intN(len(s.options))])
	}
	return b.String()
}

// GenerateUnique renders until maxCount distinct strings are collected or
// 10*maxCount attempts are spent, whichever comes first. It never returns
// more strings than the text has variations.
func (e *Engine) GenerateUnique(text string, maxCount int) []string {
	if maxCount <= 0 {
		return []string{}
	}
	want := maxCount
	if n := CountVariations(text); n < want {
		want = n
	}
	seen := make(map[string]struct{}, want)
	out := make([]string, 0, want)
	for attempt := 0; attempt < 10*maxCount && len(out) < want; attempt++ {
		v := e.Render(text)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Render uses the package level random source.
func Render(text string) string { return defaultEngine.Render(text) }

// GenerateUnique uses the package level random source.
func GenerateUnique(text string, maxCount int) []string {
	return defaultEngine.GenerateUnique(text, maxCount)
}
