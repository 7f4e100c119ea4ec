package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Fetcher retrieves and decodes the image at a normalised URL. Fetch blocks
// the calling worker and must return a KindCancelled error once ctx is done.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Image, error)
}

// HTTPConfig holds configuration for the HTTP fetcher.
type HTTPConfig struct {
	ResizeParam string
	ResizeValue int
	// Timeout bounds a whole request. Zero means no timeout.
	Timeout   time.Duration
	UserAgent string
}

// HTTPFetcher issues one GET per image, with no retries.
type HTTPFetcher struct {
	client      *resty.Client
	decoder     Decoder
	resizeParam string
	resizeValue int
	logger      zerolog.Logger
}

// NewHTTPFetcher creates a fetcher. A nil client gets a fresh resty client and
// a nil decoder falls back to ImgconvDecoder.
func NewHTTPFetcher(cfg *HTTPConfig, client *resty.Client, decoder Decoder, logger zerolog.Logger) (*HTTPFetcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("http fetcher config cannot be nil")
	}
	if client == nil {
		client = resty.New()
	}
	if decoder == nil {
		decoder = ImgconvDecoder{}
	}

	fetchLogger := logger.With().Str("component", "HTTPFetcher").Logger()
	client.SetRetryCount(0).SetLogger(restyLogger{logger: fetchLogger})
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &HTTPFetcher{
		client:      client,
		decoder:     decoder,
		resizeParam: cfg.ResizeParam,
		resizeValue: cfg.ResizeValue,
		logger:      fetchLogger,
	}, nil
}

// Fetch downloads url with the resize hint appended and decodes the body.
// The returned Image carries url unchanged, so callers can use it as a cache key.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, newFetchError(KindCancelled, url, err)
	}

	target := WithResizeHint(url, f.resizeParam, f.resizeValue)
	resp, err := f.client.R().SetContext(ctx).Get(target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newFetchError(KindCancelled, url, ctxErr)
		}
		f.logger.Debug().Err(err).Str("url", target).Msg("Transport error while retrieving image.")
		return nil, newFetchError(KindTransport, url, err)
	}

	if resp.StatusCode() != http.StatusOK {
		f.logger.Debug().Int("status", resp.StatusCode()).Str("url", target).Msg("Unexpected status while retrieving image.")
		return nil, &FetchError{Kind: KindBadStatus, URL: url, StatusCode: resp.StatusCode()}
	}
	if err := ctx.Err(); err != nil {
		return nil, newFetchError(KindCancelled, url, err)
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, newFetchError(KindDecodeFailed, url, fmt.Errorf("empty body"))
	}
	pixels, err := f.decoder.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, newFetchError(KindDecodeFailed, url, err)
	}

	return &Image{URL: url, Pixels: pixels, Size: len(body)}, nil
}

// restyLogger routes resty's own diagnostics through zerolog.
type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) { l.logger.Error().Msgf(format, v...) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.logger.Warn().Msgf(format, v...) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.logger.Debug().Msgf(format, v...) }
