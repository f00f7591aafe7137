package gpu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"landsat-desktop/internal/common"
	"landsat-desktop/internal/landsat"
	"landsat-desktop/internal/logging"
)

var (
	// ErrRateLimited is returned without a request while the tile service is rate limited
	ErrRateLimited = errors.New("tile service is rate limited")

	// ErrUnexpectedStatus wraps non-200 responses
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// UserAgent is sent with every band request
const UserAgent = "landsat-desktop"

// BandCache stores raw band responses keyed by URL
type BandCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte) error
}

// RateLimiter observes responses and reports whether a provider is throttled
type RateLimiter interface {
	IsRateLimited(provider string) bool
	CheckResponse(provider string, resp *http.Response) bool
}

// Loader fetches band images and uploads them as textures
type Loader struct {
	device   *Device
	client   *http.Client
	cache    BandCache
	limiter  RateLimiter
	provider string
	log      *logrus.Entry
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

// WithBandCache keeps raw band responses in c
func WithBandCache(c BandCache) LoaderOption {
	return func(l *Loader) { l.cache = c }
}

// WithRateLimiter reports responses to r and fails fast while it is limited
func WithRateLimiter(r RateLimiter) LoaderOption {
	return func(l *Loader) { l.limiter = r }
}

// NewLoader creates a loader uploading into device
func NewLoader(device *Device, opts ...LoaderOption) *Loader {
	l := &Loader{
		device: device,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
		provider: common.ProviderLandsat,
		log:      logging.For("TextureLoader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Device returns the device textures are uploaded to
func (l *Loader) Device() *Device {
	return l.device
}

// Release frees textures created by this loader
func (l *Loader) Release(textures ...*Texture) {
	l.device.Release(textures...)
}

// LoadTexture fetches one image URL into a texture
func (l *Loader) LoadTexture(ctx context.Context, url string) (*Texture, error) {
	img, assets, err := l.loadImage(ctx, url)
	if err != nil {
		return nil, err
	}
	tex, err := l.device.CreateTexture(img, DefaultParameters)
	if err != nil {
		return nil, err
	}
	tex.Assets = assets
	return tex, nil
}

// LoadTextures fetches urls concurrently and returns textures in the same order.
// The first failure cancels the remaining requests and fails the whole call.
func (l *Loader) LoadTextures(ctx context.Context, urls []string) ([]*Texture, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	textures := make([]*Texture, len(urls))
	errs := make([]error, len(urls))

	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			tex, err := l.LoadTexture(ctx, u)
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			textures[i] = tex
		}(i, u)
	}
	wg.Wait()

	if err := firstError(errs); err != nil {
		l.device.Release(textures...)
		return nil, err
	}
	return textures, nil
}

// firstError prefers a root cause over the cancellations it triggered
func firstError(errs []error) error {
	var canceled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			if canceled == nil {
				canceled = err
			}
			continue
		}
		return err
	}
	return canceled
}

func (l *Loader) loadImage(ctx context.Context, url string) (image.Image, []string, error) {
	if l.cache != nil {
		if data, ok := l.cache.Get(url); ok {
			if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
				return img, l.cachedAssets(url), nil
			}
			l.log.Warnf("Cached band %s does not decode, fetching again", url)
		}
	}

	data, assets, err := l.fetch(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", url, err)
	}
	l.store(url, data, assets)
	return img, assets, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, []string, error) {
	if l.limiter != nil && l.limiter.IsRateLimited(l.provider) {
		return nil, nil, ErrRateLimited
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch band: %w", err)
	}
	defer resp.Body.Close()

	if l.limiter != nil && l.limiter.CheckResponse(l.provider, resp) {
		return nil, nil, fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: %d for %s", ErrUnexpectedStatus, resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read band: %w", err)
	}
	return data, ParseAssets(resp.Header.Get(landsat.AssetsHeader)), nil
}

// store caches a band body that decoded
func (l *Loader) store(url string, data []byte, assets []string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(url, data); err != nil {
		l.log.Warnf("Failed to cache band: %v", err)
		return
	}
	if len(assets) == 0 {
		return
	}
	raw, err := json.Marshal(assets)
	if err != nil {
		l.log.Warnf("Failed to encode band assets: %v", err)
		return
	}
	if err := l.cache.Set(assetsKey(url), raw); err != nil {
		l.log.Warnf("Failed to cache band assets: %v", err)
	}
}

func (l *Loader) cachedAssets(url string) []string {
	raw, ok := l.cache.Get(assetsKey(url))
	if !ok {
		return []string{}
	}
	return ParseAssets(string(raw))
}

func assetsKey(url string) string {
	return url + "#assets"
}

// ParseAssets decodes the x-assets header. Missing or malformed values give an empty list.
func ParseAssets(header string) []string {
	assets := []string{}
	if header == "" {
		return assets
	}
	if err := json.Unmarshal([]byte(header), &assets); err != nil || assets == nil {
		return []string{}
	}
	return assets
}
