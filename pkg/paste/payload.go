package paste

import (
	"io"
	"mime"
	"strings"

	"github.com/jacktea/xpaste/pkg/repository"
)

// Mode selects how a resolved object is presented.
type Mode int

const (
	// ModeRendered presents the content inside an HTML view.
	ModeRendered Mode = iota
	// ModeRaw presents the exact stored bytes.
	ModeRaw
)

func (m Mode) String() string {
	if m == ModeRaw {
		return "raw"
	}
	return "rendered"
}

// RenderedContentType is the media type of the rendered view.
const RenderedContentType = "text/html; charset=utf-8"

// Payload is a resolved object. Body yields the stored bytes in both modes;
// only the presentation metadata differs.
type Payload struct {
	repository.Object
	Mode Mode
	Body io.ReadCloser
}

// Close releases the content stream.
func (p *Payload) Close() error {
	return p.Body.Close()
}

// ContentType is the media type the payload is served with.
func (p *Payload) ContentType() string {
	if p.Mode == ModeRaw {
		if p.Object.ContentType == "" {
			return "application/octet-stream"
		}
		return p.Object.ContentType
	}
	return RenderedContentType
}

// Disposition is the Content-Disposition header for the payload. Raw text
// and images display inline; anything else downloads.
func (p *Payload) Disposition() string {
	kind := "attachment"
	if p.Mode == ModeRendered || Inline(p.Object.ContentType) {
		kind = "inline"
	}
	return mime.FormatMediaType(kind, map[string]string{"filename": p.Code})
}

// Inline reports whether content of the given media type is shown in the
// browser rather than downloaded.
func Inline(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/") || strings.HasPrefix(mediaType, "image/")
}
