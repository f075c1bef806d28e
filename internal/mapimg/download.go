package mapimg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"veloxbot/internal/camera"
	logx "veloxbot/pkg/logx"
)

// DownloaderConfig points at a staticmap-style rendering endpoint
// (center/zoom/size/markers query parameters).
type DownloaderConfig struct {
	BaseURL string
	Timeout time.Duration
}

const DefaultBaseURL = "https://staticmap.openstreetmap.de/staticmap.php"

// Downloader fetches a rendered map tile for one camera. It is consulted
// only on a cache miss.
type Downloader struct {
	cfg    DownloaderConfig
	client *http.Client
	log    logx.Logger
}

func NewDownloader(cfg DownloaderConfig, log logx.Logger) (*Downloader, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("mapimg: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Downloader{cfg: cfg, client: &http.Client{Timeout: timeout}, log: log}, nil
}

func (d *Downloader) Download(ctx context.Context, cam camera.Camera, p Params) ([]byte, error) {
	p = p.withDefaults()
	reqURL := d.requestURL(cam.Point(), p)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download map image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download map image: unexpected status %d", resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("download map image: %w", err)
	}
	d.log.Debug("map image downloaded",
		logx.String("camera", cam.Name), logx.Int("bytes", len(b)))
	return b, nil
}

func (d *Downloader) requestURL(pt orb.Point, p Params) string {
	center := strconv.FormatFloat(pt.Lat(), 'f', 6, 64) + "," + strconv.FormatFloat(pt.Lon(), 'f', 6, 64)

	q := url.Values{}
	q.Set("center", center)
	q.Set("zoom", strconv.Itoa(p.Zoom))
	q.Set("size", fmt.Sprintf("%dx%d", p.Width, p.Height))
	q.Set("markers", center+",red-pushpin")
	return d.cfg.BaseURL + "?" + q.Encode()
}
