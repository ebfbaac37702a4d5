package utils

import "testing"

func TestTruncate(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"under limit", "hello", 10, "hello"},
		{"exact limit", "hello", 5, "hello"},
		{"needs ellipsis", "hello world", 8, "hello..."},
		{"tiny limit", "hello world", 2, "he"},
		{"zero limit", "hello", 0, ""},
		{"multibyte", "héllo wörld", 8, "héllo..."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Truncate(tc.input, tc.maxLen)
			if got != tc.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "report.pdf", "report.pdf"},
		{"path traversal", "../../etc/passwd", "passwd"},
		{"spaces and slashes", "my file/name.txt", "name.txt"},
		{"weird chars", "résumé (final)!!.docx", "r_sum_final_.docx"},
		{"empty", "", "file"},
		{"dots only", "...", "file"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeFilename(tc.input)
			if got != tc.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
