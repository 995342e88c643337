package extract

import (
	"regexp"
	"strings"
)

// languageRule scores one candidate language by keyword hits. Rules are an
// explicit ranked table, not reflection, so behavior stays auditable.
type languageRule struct {
	name     string
	keywords []string
}

// languageRules are checked in order; the highest score wins and earlier
// entries win ties. Keywords are matched as whole words.
var languageRules = []languageRule{
	{"python", []string{"def ", "import ", "self.", "elif", "lambda", "__init__", "print("}},
	{"go", []string{"func ", "package ", ":=", "go func", "chan ", "defer ", "fmt."}},
	{"typescript", []string{"interface ", ": string", ": number", "export type", "readonly ", "enum "}},
	{"javascript", []string{"const ", "=> ", "function ", "console.log", "require(", "let ", "extends "}},
	{"rust", []string{"fn ", "let mut", "impl ", "-> ", "::new(", "pub struct", "match "}},
	{"java", []string{"public class", "private ", "void ", "extends ", "System.out", "@Override"}},
	{"shell", []string{"#!/bin", "echo ", "$ ", "sudo ", "curl ", "grep ", "export "}},
	{"sql", []string{"SELECT ", "INSERT INTO", "CREATE TABLE", "WHERE ", "FROM ", "JOIN "}},
	{"css", []string{"display:", "margin:", "padding:", "color:", "@media"}},
	{"html", []string{"<div", "<span", "<html", "</", "<p>"}},
	{"yaml", []string{"- name:", "version:", "apiVersion:", "metadata:"}},
	{"json", []string{"{\"", "\": \"", "\": {", "null,"}},
}

// classLanguages maps highlighter class tokens to canonical language tags.
var classLanguages = map[string]string{
	"python": "python", "py": "python",
	"go": "go", "golang": "go",
	"javascript": "javascript", "js": "javascript",
	"typescript": "typescript", "ts": "typescript",
	"rust": "rust", "rs": "rust",
	"java": "java",
	"shell": "shell", "sh": "shell", "bash": "shell", "console": "shell",
	"sql":  "sql",
	"css":  "css",
	"html": "html", "xml": "html",
	"yaml": "yaml", "yml": "yaml",
	"json": "json",
}

var classLangPattern = regexp.MustCompile(`(?:language|lang|highlight|brush)[-:]([A-Za-z0-9+]+)`)

// DetectLanguage tags a code block. An explicit class hint
// (language-xxx and friends) wins; otherwise the keyword table scores the
// code body. Unresolved blocks return "" and are kept, never dropped.
func DetectLanguage(classHint, code string) string {
	if lang := languageFromClass(classHint); lang != "" {
		return lang
	}
	return languageFromKeywords(code)
}

func languageFromClass(hint string) string {
	if hint == "" {
		return ""
	}
	for _, match := range classLangPattern.FindAllStringSubmatch(hint, -1) {
		if lang, ok := classLanguages[strings.ToLower(match[1])]; ok {
			return lang
		}
	}
	for _, token := range strings.Fields(strings.ToLower(hint)) {
		if lang, ok := classLanguages[token]; ok {
			return lang
		}
	}
	return ""
}

func languageFromKeywords(code string) string {
	best := ""
	bestScore := 0
	for _, rule := range languageRules {
		score := 0
		for _, kw := range rule.keywords {
			if strings.Contains(code, kw) {
				score++
			}
		}
		if score > bestScore {
			best = rule.name
			bestScore = score
		}
	}
	if bestScore < 2 {
		// A single keyword hit is too weak a signal: "import " alone
		// appears in several languages.
		return ""
	}
	return best
}
