package server

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// AttachmentOpts controls WriteAttachment.
type AttachmentOpts struct {
	Filename    string // sanitized before use
	ContentType string // application/octet-stream when empty
	Size        int64  // -1 when unknown; otherwise enforced
	CacheCtrl   string // optional
}

// WriteAttachment streams src as a download with a sanitized
// Content-Disposition. With a known Size the body must match it exactly.
func WriteAttachment(w http.ResponseWriter, r *http.Request, src io.Reader, opts AttachmentOpts) error {
	name := sanitizeFilename(opts.Filename)

	ct := strings.TrimSpace(opts.ContentType)
	if ct == "" {
		ct = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Content-Type", ct)
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, name, url.PathEscape(name)))
	h.Set("X-Content-Type-Options", "nosniff")
	if opts.CacheCtrl != "" {
		h.Set("Cache-Control", opts.CacheCtrl)
	}
	if opts.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(opts.Size, 10))
	}
	if r.Method == http.MethodHead || src == nil {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	if opts.Size < 0 {
		_, err := io.Copy(w, src)
		return err
	}
	lr := &io.LimitedReader{R: src, N: opts.Size}
	n, err := io.Copy(w, lr)
	if err != nil {
		return err
	}
	if n != opts.Size {
		return fmt.Errorf("mismatched content length: wrote=%d want=%d", n, opts.Size)
	}
	return nil
}

// sanitizeFilename keeps letters, digits, space, dot, underscore and
// hyphen, maps path separators to underscores and never returns a name
// that starts with a dot.
func sanitizeFilename(s string) string {
	s = strings.NewReplacer("\r", "", "\n", "", "/", "_", "\\", "_").Replace(strings.TrimSpace(s))
	s = toASCII(s)

	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		switch {
		case r == ' ':
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
			continue
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
		lastSpace = false
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.ReplaceAll(out, "_.", ".")
	out = strings.TrimLeft(out, ". _-")
	out = strings.TrimRight(out, ". ")
	if len(out) > 120 {
		out = out[:120]
	}
	if out == "" {
		return "download"
	}
	return out
}

var asciiFold = map[rune]string{
	'ß': "ss", 'æ': "ae", 'Æ': "AE", 'œ': "oe", 'Œ': "OE", 'ø': "o", 'Ø': "O",
	'à': "a", 'á': "a", 'â': "a", 'ä': "a", 'ã': "a", 'å': "a",
	'ç': "c", 'è': "e", 'é': "e", 'ê': "e", 'ë': "e",
	'ì': "i", 'í': "i", 'î': "i", 'ï': "i", 'ñ': "n",
	'ò': "o", 'ó': "o", 'ô': "o", 'ö': "o", 'õ': "o",
	'ù': "u", 'ú': "u", 'û': "u", 'ü': "u", 'ý': "y", 'ÿ': "y",
	'À': "A", 'Á': "A", 'Â': "A", 'Ä': "A", 'Ç': "C", 'É': "E", 'È': "E",
	'Ñ': "N", 'Ö': "O", 'Ü': "U",
	'–': "-", '—': "-", '−': "-", 'β': "b",
}

// toASCII folds common accented Latin runes and dashes to ASCII and drops
// every other non-ASCII rune.
func toASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
			continue
		}
		b.WriteString(asciiFold[r])
	}
	return b.String()
}
