package channels

import "testing"

func TestIsImageFile(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"photo.jpg", true},
		{"photo.JPEG", true},
		{"image.png", true},
		{"anim.gif", true},
		{"pic.webp", true},
		{"doc.pdf", false},
		{"archive.zip", false},
		{"noext", false},
	}

	for _, tc := range cases {
		if got := isImageFile(tc.path); got != tc.want {
			t.Errorf("isImageFile(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestMarkdownToTelegramHTML(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"bold", "**hello**", "<b>hello</b>"},
		{"italic", "_hello_", "<i>hello</i>"},
		{"strike", "~~hello~~", "<s>hello</s>"},
		{"link", "[text](https://example.com)", `<a href="https://example.com">text</a>`},
		{"escapes html", "a < b & c > d", "a &lt; b &amp; c &gt; d"},
		{"heading stripped", "# Title", "Title"},
		{"bullet", "- item", "• item"},
		{"inline code", "use `fmt.Println`", "use <code>fmt.Println</code>"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := markdownToTelegramHTML(tc.input); got != tc.want {
				t.Errorf("markdownToTelegramHTML(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestMarkdownToTelegramHTML_CodeBlockPreservesContent(t *testing.T) {
	input := "```go\nfmt.Println(\"x < y\")\n```"
	got := markdownToTelegramHTML(input)
	if got == input {
		t.Fatalf("expected code block to be converted to <pre><code>, got unchanged input")
	}
	wantSubstr := "<pre><code>"
	if !contains(got, wantSubstr) {
		t.Errorf("markdownToTelegramHTML(%q) = %q, want substring %q", input, got, wantSubstr)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestIsAllowed(t *testing.T) {
	open := &TelegramChannel{allowedFrom: map[int64]bool{}}
	if !open.isAllowed(12345) {
		t.Error("empty allowlist should permit any user")
	}

	restricted := &TelegramChannel{allowedFrom: map[int64]bool{111: true}}
	if restricted.isAllowed(222) {
		t.Error("should reject user not in allowlist")
	}
	if !restricted.isAllowed(111) {
		t.Error("should accept user in allowlist")
	}
}
