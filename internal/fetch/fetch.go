// Package fetch turns the public measurement page into a camera set.
// It is a thin adapter; everything behind the Fetcher interface is
// swappable without touching the pipeline.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"veloxbot/internal/camera"
	logx "veloxbot/pkg/logx"
)

type Fetcher interface {
	Fetch(ctx context.Context) (camera.Set, error)
}

type Config struct {
	URL      string
	Selector string
	Timeout  time.Duration

	// OfflinePath, when set, reads a saved copy of the page instead of
	// performing the HTTP request. Used for local runs and tests.
	OfflinePath string
}

const (
	DefaultURL      = "https://polizei.lu.ch/organisation/sicherheit_verkehrspolizei/verkehrspolizei/spezialversorgung/verkehrssicherheit/Aktuelle_Tempomessungen"
	DefaultSelector = "#radarList li > a"
)

// The page resets the canton filter through a trailing list item; it is
// not a camera and must be skipped.
const resetFilterText = "Kantonsübersicht zurücksetzen"

// Coordinates live in the onclick handler: map.flyTo([lat, lon], ...).
var flyToRe = regexp.MustCompile(`map\.flyTo\(\[\s*([0-9.+-]+)\s*,\s*([0-9.+-]+)`)

type HTTP struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *HTTP {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.Selector) == "" {
		cfg.Selector = DefaultSelector
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTP{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (h *HTTP) Fetch(ctx context.Context) (camera.Set, error) {
	body, err := h.document(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return Parse(body, h.cfg.Selector, h.log)
}

func (h *HTTP) document(ctx context.Context) (io.ReadCloser, error) {
	if p := strings.TrimSpace(h.cfg.OfflinePath); p != "" {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open offline page: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch camera page: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch camera page: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Parse extracts the camera set from an HTML document. Names are unique
// within one page; duplicates are last-write-wins. Entries without a
// parsable map link keep zero coordinates and render text-only later.
func Parse(r io.Reader, selector string, log logx.Logger) (camera.Set, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse camera page: %w", err)
	}

	set := camera.Set{}
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		name := strings.TrimSpace(sel.Text())
		if name == "" || name == resetFilterText {
			return
		}
		c := camera.Camera{Name: name}
		if onclick, ok := sel.Attr("onclick"); ok {
			if m := flyToRe.FindStringSubmatch(onclick); m != nil {
				lat, errLat := strconv.ParseFloat(m[1], 64)
				lon, errLon := strconv.ParseFloat(m[2], 64)
				if errLat == nil && errLon == nil {
					c.Lat, c.Lon = lat, lon
				}
			}
		}
		if !c.HasLocation() {
			log.Debug("camera without coordinates", logx.String("name", name))
		}
		set[name] = c
	})
	return set, nil
}
