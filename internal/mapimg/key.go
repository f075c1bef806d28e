package mapimg

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"veloxbot/internal/camera"
)

// Params select how a map tile is rendered. Different parameter sets must
// never share a cache entry.
type Params struct {
	Zoom   int
	Width  int
	Height int
}

func (p Params) withDefaults() Params {
	if p.Zoom <= 0 {
		p.Zoom = 16
	}
	if p.Width <= 0 {
		p.Width = 600
	}
	if p.Height <= 0 {
		p.Height = 400
	}
	return p
}

// Key derives the cache filename for one camera and rendering parameter
// set. It is a pure function: the sanitized name keeps entries greppable
// on disk, the digest over the full name, coordinates and parameters
// makes collisions between distinct requests practically impossible.
func Key(c camera.Camera, p Params) string {
	p = p.withDefaults()

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%dx%d",
		c.Name,
		strconv.FormatFloat(c.Lat, 'f', -1, 64),
		strconv.FormatFloat(c.Lon, 'f', -1, 64),
		p.Zoom, p.Width, p.Height,
	)
	digest := hex.EncodeToString(h.Sum(nil))[:16]

	slug := sanitizeName(c.Name)
	if slug == "" {
		slug = "camera"
	}
	return slug + "-" + digest + ".png"
}

// sanitizeName folds a camera name into a short, filesystem-safe slug.
func sanitizeName(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case lastDash:
			// collapse runs of separators
		default:
			b.WriteByte('-')
			lastDash = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
