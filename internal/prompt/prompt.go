// Package prompt composes the instruction text sent to a model from a writing
// style and optional user-supplied custom rules.
package prompt

import (
	"fmt"
	"strings"
)

// Style selects a tone or brevity directive appended to the base
// instructions.
type Style string

const (
	Grammar       Style = "grammar"
	Formal        Style = "formal"
	Informal      Style = "informal"
	Collaborative Style = "collaborative"
	Concise       Style = "concise"
)

// DefaultStyle is used when a request does not name a style.
const DefaultStyle = Grammar

// Styles returns all writing styles in a stable order.
func Styles() []Style {
	return []Style{Grammar, Formal, Informal, Collaborative, Concise}
}

// Valid reports whether s is a known style.
func (s Style) Valid() bool {
	_, ok := addenda[s]
	return ok
}

// ParseStyle converts s to a Style. An empty string yields [DefaultStyle].
func ParseStyle(s string) (Style, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultStyle, nil
	}
	st := Style(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("prompt: unknown writing style %q", s)
	}
	return st, nil
}

const base = `
You are a writing assistant. Fix ALL spelling mistakes, grammar errors, punctuation issues, and typos.

Rules:
1. Correct repeated letters (e.g., "Hellllooo" → "Hello").
2. Fix misspelled words (e.g., "Thhis" → "This").
3. Correct improper capitalization.
4. Preserve ALL markdown formatting (bold, italic, headings, lists, links, blockquotes, inline code, fenced code blocks).
5. NEVER alter text inside inline ` + "`code`" + ` or fenced ` + "```code blocks```" + `.
6. Do not translate the text — always keep the original language of the input.
7. Be thorough and aggressive with corrections, but do not change meaning.
8. Output ONLY the corrected text with markdown formatting intact. Do not explain or add anything else.
`

// addenda holds the style-specific blocks. Grammar is the base prompt alone.
var addenda = map[Style]string{
	Grammar: "",
	Formal: `

Additional Instructions for Formal Tone:
- When rewriting, use a formal and professional tone.
- Avoid contractions (e.g., use "do not" instead of "don't").
- Use precise and polished language appropriate for business or academic contexts.
- Do not add unnecessary complexity or verbosity.`,
	Informal: `

Additional Instructions for Informal Tone:
- When rewriting, use a relaxed and conversational tone.
- Use contractions and natural phrasing that feels friendly and human.
- Avoid stiff or overly professional expressions.
- Keep sentences clear and approachable.`,
	Collaborative: `

Additional Instructions for Collaborative Tone:
- When rewriting, use an inclusive and friendly tone suitable for teamwork.
- Favor positive and cooperative language (e.g., "let's", "we can", "feel free to").
- Maintain professionalism while sounding approachable and open.
- Avoid harsh or overly direct phrasing.`,
	Concise: `

Additional Instructions for Concise Style:
- When rewriting, aim for clarity and brevity.
- Remove unnecessary words and redundancy while keeping full meaning.
- Prefer short, direct sentences.
- Maintain a natural flow without sounding robotic or abrupt.`,
}

// CustomRulesHeader introduces user-supplied rules in the composed prompt.
const CustomRulesHeader = "Additional Custom Rules:"

// BuildInstructions returns the system prompt for style with customRules
// appended under [CustomRulesHeader]. Blank custom rules are ignored; an
// unknown style falls back to [DefaultStyle]. The result is deterministic.
func BuildInstructions(style Style, customRules string) string {
	addendum, ok := addenda[style]
	if !ok {
		addendum = addenda[DefaultStyle]
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString(addendum)
	if rules := strings.TrimSpace(customRules); rules != "" {
		b.WriteString("\n\n")
		b.WriteString(CustomRulesHeader)
		b.WriteString("\n")
		b.WriteString(rules)
	}
	return b.String()
}
