package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectLanguageClassHintWins(t *testing.T) {
	t.Parallel()

	cases := []struct {
		hint string
		want string
	}{
		{"language-python", "python"},
		{"lang-go", "go"},
		{"highlight-rust", "rust"},
		{"brush:js", "javascript"},
		{"language-TS", "typescript"},
		{"hljs bash", "shell"},
		{"language-golang", "go"},
		{"yaml", "yaml"},
	}
	for _, tc := range cases {
		// Code body says python; the class hint must override it.
		got := DetectLanguage(tc.hint, "def f():\n    print(1)\nimport os")
		require.Equal(t, tc.want, got, "hint %q", tc.hint)
	}
}

func TestDetectLanguageFromKeywords(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code string
		want string
	}{
		{"python", "def greet(name):\n    print(f\"hi\")\nimport sys", "python"},
		{"go", "package main\n\nfunc main() {\n\tx := 1\n\tdefer done()\n}", "go"},
		{"javascript", "const x = 1\nconsole.log(x)\nfunction f() {}", "javascript"},
		{"rust", "fn main() {\n    let mut v = Vec::new();\n    match v.pop() {}\n}", "rust"},
		{"sql", "SELECT id FROM users WHERE active = true", "sql"},
		{"shell", "#!/bin/sh\necho hello\nexport PATH=/bin", "shell"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, DetectLanguage("", tc.code))
		})
	}
}

func TestDetectLanguageWeakSignalReturnsEmpty(t *testing.T) {
	t.Parallel()

	// One keyword hit is not enough.
	require.Equal(t, "", DetectLanguage("", "import the dataset into the tool"))
	require.Equal(t, "", DetectLanguage("", "plain prose with no code at all"))
	require.Equal(t, "", DetectLanguage("", ""))
	require.Equal(t, "", DetectLanguage("not-a-language-class", "plain text"))
}
