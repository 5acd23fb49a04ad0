// Package render produces the HTML and plain-text pages of the web front end.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/jacktea/xpaste/pkg/paste"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

//go:embed static/style.css
var baseStyle []byte

// Renderer executes page templates for one Site.
type Renderer struct {
	site  Site
	pages *template.Template
	api   *texttemplate.Template
	style []byte
}

// New parses the templates and prepares the stylesheet.
func New(site Site) (*Renderer, error) {
	if len(site.Languages) == 0 {
		site.Languages = Languages()
	}
	funcs := template.FuncMap{
		"path":  site.Path,
		"bytes": func(n int64) string { return humanize.IBytes(uint64(n)) },
		"ago":   humanize.Time,
	}
	pages, err := template.New("pages").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("render: parse pages: %w", err)
	}
	api, err := texttemplate.New("api").ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("render: parse api templates: %w", err)
	}
	css, err := highlightCSS()
	if err != nil {
		return nil, fmt.Errorf("render: highlight css: %w", err)
	}
	style := append(append([]byte(nil), baseStyle...), css...)
	return &Renderer{site: site, pages: pages, api: api, style: style}, nil
}

// Site returns the configuration the renderer was built with.
func (r *Renderer) Site() Site { return r.site }

// Style returns the stylesheet served at /style.css.
func (r *Renderer) Style() []byte { return r.style }

type indexPage struct {
	Site Site
}

// Index writes the upload form.
func (r *Renderer) Index(w io.Writer) error {
	return r.pages.ExecuteTemplate(w, "index.html", indexPage{Site: r.site})
}

// ReceiptView is what an upload reply shows.
type ReceiptView struct {
	paste.Receipt
	// Password is the uploader's own password, echoed in links when it
	// protects the object.
	Password string
	Language string
}

type receiptPage struct {
	Site Site
	ReceiptView
	Link    string
	RawLink string
}

func (r *Renderer) receiptPage(v ReceiptView) receiptPage {
	query := url.Values{}
	if v.Protected && v.Password != "" && !v.PasswordIgnored {
		query.Set("password", v.Password)
	}
	rawLink := r.site.Link(v.Code+"/raw", query)
	if v.Language != "" {
		query.Set("lang", v.Language)
	}
	return receiptPage{
		Site:        r.site,
		ReceiptView: v,
		Link:        r.site.Link(v.Code, query),
		RawLink:     rawLink,
	}
}

// Receipt writes the HTML reply to a form upload.
func (r *Renderer) Receipt(w io.Writer, v ReceiptView) error {
	return r.pages.ExecuteTemplate(w, "receipt.html", r.receiptPage(v))
}

// APIReceipt writes the plain-text reply to an API upload.
func (r *Renderer) APIReceipt(w io.Writer, v ReceiptView) error {
	return r.api.ExecuteTemplate(w, "receipt.txt", r.receiptPage(v))
}

// View describes one object for the rendered page.
type View struct {
	Code        string
	ContentType string
	Size        int64
	CreatedAt   time.Time
	Language    string
	Password    string
	Content     []byte
}

type viewPage struct {
	Site Site
	View
	Body    template.HTML
	Lexer   string
	RawPath string
	Image   bool
	Binary  bool
}

// Render writes the rendered page for an object. Text is highlighted or, for
// markdown, converted to HTML; images are embedded; other binary content
// only gets a link to the raw bytes.
func (r *Renderer) Render(w io.Writer, v View) error {
	query := url.Values{}
	if v.Password != "" {
		query.Set("password", v.Password)
	}
	page := viewPage{Site: r.site, View: v, RawPath: r.site.Path(v.Code + "/raw")}
	if encoded := query.Encode(); encoded != "" {
		page.RawPath += "?" + encoded
	}
	switch {
	case isImage(v.ContentType):
		page.Image = true
	case !utf8.Valid(v.Content) || bytes.IndexByte(v.Content, 0) >= 0:
		page.Binary = true
	default:
		body, lexer, err := highlight(v.Content, v.Language, v.ContentType)
		if err != nil {
			return fmt.Errorf("render: highlight %s: %w", v.Code, err)
		}
		page.Body, page.Lexer = body, lexer
	}
	return r.pages.ExecuteTemplate(w, "view.html", page)
}

// Error writes a minimal error page.
func (r *Renderer) Error(w io.Writer, status int, message string) error {
	return r.pages.ExecuteTemplate(w, "error.html", struct {
		Site    Site
		Status  int
		Message string
	}{r.site, status, message})
}

// SVG is excluded since it can carry script.
func isImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml"
}
