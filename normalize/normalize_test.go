package normalize

import (
	"strings"
	"testing"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "paren delimiters",
			in:   `Cho \(x + y\) và \[z\]`,
			want: `Cho $x + y$ và $z$`,
		},
		{
			name: "double escaped delimiters",
			in:   `\\(a\\) bằng \\[b\\]`,
			want: `$a$ bằng $b$`,
		},
		{
			name: "display dollars collapse",
			in:   `$$E = mc^2$$`,
			want: `$E = mc^2$`,
		},
		{
			name: "symbol font minus",
			in:   "5 \uf02d 3",
			want: "5 - 3",
		},
		{
			name: "other private use glyphs dropped",
			in:   "a\ue123b",
			want: "ab",
		},
		{
			name: "nu glyph with axis subscript",
			in:   `νx = 3`,
			want: `v_{x} = 3`,
		},
		{
			name: "nu macro in math",
			in:   `$\nu_x + \nu_y$`,
			want: `$v_x + v_y$`,
		},
		{
			name: "degree escape repair",
			in:   `$30\\ ^\circ$`,
			want: `$30^{\circ}$`,
		},
		{
			name: "trig degree insertion",
			in:   `$\sin(90 - \alpha)$`,
			want: `$\sin(90^\circ - \alpha)$`,
		},
		{
			name: "greek glyph map",
			in:   `$α + β = π$`,
			want: `$\alpha + \beta = \pi$`,
		},
		{
			name: "angle becomes overline",
			in:   `$\angle ABC = 60^{\circ}$`,
			want: `$\overline{ABC} = 60^{\circ}$`,
		},
		{
			name: "scalar vector reorder",
			in:   `$\vec{F} k$`,
			want: `$k\vec{F}$`,
		},
		{
			name: "underlined bold label",
			in:   "\\textbf{\\ul{A}.}",
			want: "\\textbf{A.}",
		},
		{
			name: "option label pushed to new line",
			in:   "nội dung \\textbf{B.} sai",
			want: "nội dung\n\n\\textbf{B.} sai",
		},
		{
			name: "blank run collapse",
			in:   "a\n\n\n\n\nb",
			want: "a\n\nb",
		},
		{
			name: "empty text command",
			in:   `$a\text{   }b$`,
			want: `$a b$`,
		},
		{
			name: "thin space",
			in:   `$5\,m$`,
			want: `$5 \text{m}$`,
		},
		{
			name: "axis name wrapped in text mode",
			in:   `trục Ox nằm ngang`,
			want: `trục $Ox$ nằm ngang`,
		},
		{
			name: "unit attached to number in math mode",
			in:   `$v = 10m/s$`,
			want: `$v = 10 \text{m/s}$`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(tt.in)
			if got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyIdempotent(t *testing.T) {
	inputs := []string{
		`Cho \(x + y\) và \[z\]`,
		"5 \uf02d 3",
		`$\sin(90 - \alpha)$`,
		`$α + β$ và góc \angle ABC`,
		"nội dung \\textbf{B.} sai",
		`trục Ox, vận tốc $v = 10m/s$, góc \tan \alpha`,
		"Câu 1: Một vật rơi tự do từ độ cao $h = 45 \\text{m}$.\n\n\\textbf{A.} $3 \\text{s}$\n\n\\textbf{B.} $9 \\text{s}$",
	}
	for _, in := range inputs {
		once := Apply(in)
		twice := Apply(once)
		if once != twice {
			t.Errorf("Apply not idempotent for %q:\n once: %q\ntwice: %q", in, once, twice)
		}
	}
}

func TestApplyKeepsVietnameseText(t *testing.T) {
	in := "Câu 1: Chất điểm chuyển động thẳng đều."
	if got := Apply(in); got != in {
		t.Errorf("plain Vietnamese text changed: %q", got)
	}
}

func TestApplyNoNestedDollars(t *testing.T) {
	out := Apply(`góc \tan \alpha so với trục Ox`)
	if strings.Contains(out, "$$") {
		t.Errorf("nested delimiters in %q", out)
	}
}
