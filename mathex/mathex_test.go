package mathex

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	ex, err := NewExtractor(dir)
	if err != nil {
		t.Fatal(err)
	}

	got, err := ex.Extract(`Cho $x + y = 5$ và $z^2$`, 7)
	if err != nil {
		t.Fatal(err)
	}
	want := `Cho [:$mathm7_1$] và [:$mathm7_2$]`
	if got != want {
		t.Errorf("Extract = %q, want %q", got, want)
	}

	b, err := os.ReadFile(filepath.Join(dir, FolderName, "mathm7_1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "x + y = 5" {
		t.Errorf("side file = %q, want %q", b, "x + y = 5")
	}
	if v, ok := ex.Placeholder("mathm7_2"); !ok || v != "z^2" {
		t.Errorf("Placeholder(mathm7_2) = %q, %v", v, ok)
	}
}

func TestExtractUniquePerQuestion(t *testing.T) {
	ex, err := NewExtractor(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ex.Extract(`$a$`, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := ex.Extract(`$b$`, 2); err != nil {
		t.Fatal(err)
	}
	data := ex.Data()
	if len(data) != 2 {
		t.Fatalf("got %d vars, want 2", len(data))
	}
	if data["mathm1_1"] != "a" || data["mathm2_1"] != "b" {
		t.Errorf("unexpected data: %v", data)
	}
}

func TestCleanSpan(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"degree double escape", `30\\ ^\circ`, `30^{\circ}`},
		{"degree single escape", `45\ ^\circ`, `45^{\circ}`},
		{"empty text command", `a\text{   }b`, `a b`},
		{"thin space", `5\,m`, `5 m`},
		{"bare unit wrapped", `m/s`, `\text{m/s}`},
		{"bare unit with degree sign", `°C`, `\text{°C}`},
		{"expression not wrapped", `x + y`, `x + y`},
		{"digits not wrapped", `5m`, `5m`},
		{"long text not wrapped", `kilometers per hour`, `kilometers per hour`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanSpan(tt.in); got != tt.want {
				t.Errorf("cleanSpan(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractNoMath(t *testing.T) {
	ex, err := NewExtractor(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	in := "Câu hỏi không có công thức."
	got, err := ex.Extract(in, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != in {
		t.Errorf("text changed: %q", got)
	}
	if len(ex.Data()) != 0 {
		t.Errorf("unexpected side files: %v", ex.Data())
	}
}
