package render

import (
	"net/url"
	"strings"
)

// Site is the startup configuration shown on every page. It is built once
// and never mutated afterwards.
type Site struct {
	Title string
	Label string
	// URL is the public base URL used in absolute links, e.g.
	// https://paste.example.com.
	URL string
	// WebRoot is the path prefix the service is mounted under.
	WebRoot string
	// Languages offered by the upload form. Empty means every language the
	// highlighter knows.
	Languages []string
	// MaxSize is the upload limit in bytes, shown on the form.
	MaxSize int64
}

// Root returns WebRoot normalised to start and end with a slash.
func (s Site) Root() string {
	root := "/" + strings.Trim(s.WebRoot, "/")
	if root != "/" {
		root += "/"
	}
	return root
}

// Path joins p onto the web root.
func (s Site) Path(p string) string {
	return s.Root() + strings.TrimPrefix(p, "/")
}

// Link returns the absolute URL of p with the given query.
func (s Site) Link(p string, query url.Values) string {
	link := strings.TrimSuffix(s.URL, "/") + s.Path(p)
	if encoded := query.Encode(); encoded != "" {
		link += "?" + encoded
	}
	return link
}
