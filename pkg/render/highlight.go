package render

import (
	"bytes"
	"html/template"
	"mime"
	"sort"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const styleName = "github"

var (
	formatter = chromahtml.New(
		chromahtml.WithClasses(true),
		chromahtml.WithLineNumbers(true),
		chromahtml.LineNumbersInTable(true),
	)
	// Raw HTML inside markdown is dropped and dangerous link targets are
	// filtered, since goldmark runs without the unsafe option.
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

	languagesOnce sync.Once
	languages     []string
)

// Languages lists the highlighter's language names, sorted case-insensitively.
func Languages() []string {
	languagesOnce.Do(func() {
		languages = lexers.Names(false)
		sort.Slice(languages, func(i, j int) bool {
			return strings.ToLower(languages[i]) < strings.ToLower(languages[j])
		})
	})
	return append([]string(nil), languages...)
}

func highlightCSS() ([]byte, error) {
	var buf bytes.Buffer
	if err := formatter.WriteCSS(&buf, styles.Get(styleName)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isMarkdown reports whether the content should render as a document.
func isMarkdown(lang, contentType string) bool {
	switch strings.ToLower(lang) {
	case "markdown", "md":
		return true
	case "":
		mediaType, _, _ := mime.ParseMediaType(contentType)
		return mediaType == "text/markdown" || mediaType == "text/x-markdown"
	}
	return false
}

// pickLexer chooses by explicit language, then media type, then content.
func pickLexer(lang, contentType string, src string) chroma.Lexer {
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil && contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType != "text/plain" {
			lexer = lexers.MatchMimeType(mediaType)
		}
	}
	if lexer == nil {
		lexer = lexers.Analyse(src)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

// highlight renders src as escaped, class-annotated HTML and returns the
// name of the language used.
func highlight(src []byte, lang, contentType string) (template.HTML, string, error) {
	if isMarkdown(lang, contentType) {
		var buf bytes.Buffer
		if err := markdown.Convert(src, &buf); err != nil {
			return "", "", err
		}
		return template.HTML(buf.String()), "markdown", nil
	}
	text := string(src)
	lexer := pickLexer(lang, contentType, text)
	it, err := lexer.Tokenise(nil, text)
	if err != nil {
		return "", "", err
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, styles.Get(styleName), it); err != nil {
		return "", "", err
	}
	return template.HTML(buf.String()), lexer.Config().Name, nil
}
