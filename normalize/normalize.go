// Package normalize rewrites converter output into one canonical markup
// dialect: a single inline math delimiter, named Greek macros, repaired
// escapes and consistent option-label placement.
//
// Every rule is idempotent: Apply(Apply(text)) == Apply(text).
package normalize

import (
	"regexp"
	"strings"
)

// delimiterReplacer unifies all math-delimiter dialects to single dollars.
// Double-escaped variants (pandoc escaping defects) go first.
var delimiterReplacer = strings.NewReplacer(
	`\\(`, `$`,
	`\\)`, `$`,
	`\\[`, `$`,
	`\\]`, `$`,
	`\(`, `$`,
	`\)`, `$`,
	`\[`, `$`,
	`\]`, `$`,
)

// greekReplacer maps Greek glyphs leaking from the source document to their
// LaTeX macros.
var greekReplacer = strings.NewReplacer(
	"α", `\alpha`,
	"β", `\beta`,
	"γ", `\gamma`,
	"δ", `\delta`,
	"ε", `\varepsilon`,
	"θ", `\theta`,
	"λ", `\lambda`,
	"μ", `\mu`,
	"π", `\pi`,
	"ρ", `\rho`,
	"σ", `\sigma`,
	"τ", `\tau`,
	"φ", `\varphi`,
	"ω", `\omega`,
	"Δ", `\Delta`,
)

var (
	// Stray backslashes (single or double escaped) before degree markers.
	reDegreeDouble  = regexp.MustCompile(`\\\\\s*\^\\circ`)
	reDegreeSingle  = regexp.MustCompile(`\\\s*\^\\circ`)
	reDegreeEscaped = regexp.MustCompile(`\\\^\\circ`)

	// Spacing commands rendered as literal braces or thin spaces.
	reEmptyText  = regexp.MustCompile(`\\text\{\s+\}`)
	reThinSpace  = regexp.MustCompile(`\\,`)
	reNuSub      = regexp.MustCompile(`\\nu(_?[xy])`)
	reNuGlyph    = regexp.MustCompile(`ν\s*([xy])`)
	reTrigDegree = regexp.MustCompile(`\\(sin|cos|tan|cot)\s*\(\s*(90|180|270|360)\s*(-)`)

	// Angle notation is displayed as an overline in the viewer.
	reAngleTriple = regexp.MustCompile(`\\angle\s+([A-Z]{3})`)
	reAngleSingle = regexp.MustCompile(`\\angle\s+([A-Z])`)
	reAngleBraced = regexp.MustCompile(`\\angle\{([A-Z]{1,3})\}`)

	// Scalar multipliers that the converter leaves on the wrong side of
	// vector notation.
	reVecScalar      = regexp.MustCompile(`((?:\\overrightarrow|\\vec|\\overline|\\widehat)\{[^}]+\})\s*([kK])\b`)
	reVecParenScalar = regexp.MustCompile(`(\([^)]*(?:\\overrightarrow|\\vec|\\overline|\\widehat)[^)]*\))\s*([kK])\b`)

	// Underlined option labels keep only the bold wrapper at this stage; the
	// structural parser reads underlines from the un-normalized body, this
	// rule only repairs the combined form pandoc emits for headers.
	reBoldUnderLabel = regexp.MustCompile(`\\textbf\{\\ul\{([A-Da-d])\}\.\}`)

	// Unescaped % starts a comment running to end of line.
	reComment = regexp.MustCompile(`(^|[^\\])%[^\n]*`)

	// Option labels glued to the preceding line.
	reInlineLabel = regexp.MustCompile(`([^\n])(\s*)(\\textbf\{[A-Da-d][.)]\})`)
	reManyBlank   = regexp.MustCompile(`\n{3,}`)

	// Text-mode rules.
	reAxisName  = regexp.MustCompile(`\b(Ox|Oy|Oz)\b`)
	reTanGreek  = regexp.MustCompile(`\\tan\s+\\(alpha|beta)`)
	reBareAlpha = regexp.MustCompile(`(^|[^$])\\alpha([^$]|$)`)
	reTextEq    = regexp.MustCompile(`\b([vV](?:_?\{?[xy]\}?)|F|a|d)\s*=\s*(\d+(?:,\d+)?)\s*([cmk]?m/[s^2]+|[cmk]?m|kg|s|Hz|J|N|W)\b`)

	// Math-mode rules.
	reMathUnit = regexp.MustCompile(`(\d+(?:,\d+)?)\s*([cmk]?m/[s^2]+|[cmk]?m|kg|s|Hz|J|N|W)\b`)
)

// Apply runs the full rule sequence.
func Apply(text string) string {
	text = fixDegrees(text)
	text = reEmptyText.ReplaceAllString(text, " ")
	text = reThinSpace.ReplaceAllString(text, " ")

	text = delimiterReplacer.Replace(text)
	text = strings.ReplaceAll(text, "$$", "$")
	text = reComment.ReplaceAllString(text, "$1")

	text = stripPrivateUse(text)
	text = reNuGlyph.ReplaceAllString(text, "v_{$1}")
	text = reNuSub.ReplaceAllString(text, "v$1")
	text = fixDegrees(text)
	text = reTrigDegree.ReplaceAllString(text, `\$1($2^\circ $3`)
	text = greekReplacer.Replace(text)
	text = strings.ReplaceAll(text, "Góc tạo bởi vận tốc", "Góc tạo bởi vectơ vận tốc")

	text = applyModeRules(text)

	text = reAngleTriple.ReplaceAllString(text, `\overline{$1}`)
	text = reAngleSingle.ReplaceAllString(text, `\overline{$1}`)
	text = reAngleBraced.ReplaceAllString(text, `\overline{$1}`)

	text = reVecScalar.ReplaceAllString(text, "$2$1")
	text = reVecParenScalar.ReplaceAllString(text, "$2$1")

	text = reBoldUnderLabel.ReplaceAllString(text, `\textbf{$1.}`)
	text = reInlineLabel.ReplaceAllString(text, "$1\n\n$3")
	text = reManyBlank.ReplaceAllString(text, "\n\n")

	return text
}

func fixDegrees(text string) string {
	text = reDegreeDouble.ReplaceAllString(text, `^{\circ}`)
	text = reDegreeSingle.ReplaceAllString(text, `^{\circ}`)
	text = reDegreeEscaped.ReplaceAllString(text, `^{\circ}`)
	return text
}

// stripPrivateUse removes private-use-area glyphs leaking from the source
// format. The Symbol-font minus (U+F02D) maps to a real hyphen; everything
// else in the PUA is dropped.
func stripPrivateUse(text string) string {
	if !strings.ContainsFunc(text, isPrivateUse) {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\uf02d' {
			b.WriteByte('-')
			continue
		}
		if isPrivateUse(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isPrivateUse(r rune) bool {
	return r >= '\ue000' && r <= '\uf8ff'
}

// applyModeRules splits on the inline delimiter and applies text-mode or
// math-mode rules to alternating segments. Segments never contain '$', so
// rules that promote plain tokens into math spans are safe from nesting.
func applyModeRules(text string) string {
	parts := strings.Split(text, "$")
	for i, part := range parts {
		if i%2 == 0 {
			parts[i] = applyTextRules(part)
		} else {
			parts[i] = applyMathRules(part)
		}
	}
	out := strings.Join(parts, "$")
	return strings.ReplaceAll(out, "$$", "$")
}

func applyTextRules(part string) string {
	part = reAxisName.ReplaceAllString(part, "$$$1$$")
	part = reTanGreek.ReplaceAllString(part, `$$\tan \$1$$`)
	part = strings.ReplaceAll(part, "ν", "v")
	part = reTextEq.ReplaceAllString(part, `$$$1 = $2 \text{$3}$$`)
	part = reBareAlpha.ReplaceAllString(part, `$1$$\alpha$$$2`)
	return part
}

func applyMathRules(part string) string {
	part = fixDegrees(part)
	part = reEmptyText.ReplaceAllString(part, " ")
	part = reThinSpace.ReplaceAllString(part, " ")
	part = reMathUnit.ReplaceAllString(part, `$1 \text{$2}`)
	part = reNuSub.ReplaceAllString(part, "v$1")
	return part
}
