package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"rssss/internal/config"
)

// Resolver fetches a URL, follows a bounded number of redirects and
// decodes a successful body as a feed. It holds no per-request state
// and is safe for concurrent use.
type Resolver struct {
	client       *http.Client
	decoder      Decoder
	userAgent    string
	timeout      time.Duration
	maxBodyBytes int64
	maxRedirects int
	logger       *zap.Logger
}

// Option customizes a Resolver
type Option func(*Resolver)

// WithHTTPClient replaces the outbound client. Its redirect policy is
// overridden so that redirects are always handled by the resolver.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		cp := *c
		r.client = &cp
	}
}

// WithTimeout overrides the per-attempt timeout from the fetch settings
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

// NewResolver creates a resolver from the fetch settings
func NewResolver(cfg config.FetchConfig, decoder Decoder, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client:       &http.Client{},
		decoder:      decoder,
		userAgent:    cfg.UserAgent,
		timeout:      cfg.Timeout(),
		maxBodyBytes: cfg.MaxBodyBytes,
		maxRedirects: cfg.MaxRedirects,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return r
}

// Resolve fetches rawURL and returns the terminal outcome. Each attempt
// gets its own timeout; at most maxRedirects hops are followed, after
// which a redirect response is returned as an upstream status.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Outcome {
	req := Request{URL: rawURL, RedirectsLeft: r.maxRedirects}
	hops := 0

	for {
		out := r.attempt(ctx, req)
		out.Hops = hops
		if out.Kind != KindRedirected {
			return out
		}

		r.logger.Debug("following redirect",
			zap.String("from", req.URL),
			zap.String("to", out.Location),
			zap.Int("status", out.Status),
		)
		req = req.Follow(out.Location)
		hops++
	}
}

func (r *Resolver) attempt(ctx context.Context, req Request) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Outcome{Kind: KindTransportFailure, URL: req.URL, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Outcome{Kind: KindTransportFailure, URL: req.URL, Err: fmt.Errorf("failed to fetch feed: %w", err)}
	}
	defer resp.Body.Close()

	switch Classify(resp.StatusCode, req.RedirectsLeft) {
	case ActionReadBody:
		return r.readAndDecode(req.URL, resp)

	case ActionFollow:
		location, err := redirectTarget(resp)
		if err != nil {
			return Outcome{Kind: KindRedirectInvalid, URL: req.URL, Status: resp.StatusCode, Err: err}
		}
		return Outcome{Kind: KindRedirected, URL: req.URL, Status: resp.StatusCode, Location: location}

	default:
		r.logger.Warn("invalid status",
			zap.String("url", req.URL),
			zap.Int("status", resp.StatusCode),
		)
		return Outcome{Kind: KindUpstreamStatus, URL: req.URL, Status: resp.StatusCode}
	}
}

func (r *Resolver) readAndDecode(target string, resp *http.Response) Outcome {
	if resp.ContentLength > r.maxBodyBytes {
		return Outcome{Kind: KindDecodeFailure, URL: target, Status: resp.StatusCode,
			Err: fmt.Errorf("content length %d: %w", resp.ContentLength, ErrBodyTooLarge)}
	}

	data, err := readLimited(resp.Body, r.maxBodyBytes)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return Outcome{Kind: KindDecodeFailure, URL: target, Status: resp.StatusCode, Err: err}
		}
		return Outcome{Kind: KindTransportFailure, URL: target, Status: resp.StatusCode,
			Err: fmt.Errorf("failed to read response: %w", err)}
	}

	doc, err := r.decoder.Decode(data)
	if err != nil {
		return Outcome{Kind: KindDecodeFailure, URL: target, Status: resp.StatusCode, BodyBytes: len(data), Err: err}
	}

	return Outcome{Kind: KindSuccess, URL: target, Status: resp.StatusCode, Document: doc, BodyBytes: len(data)}
}

// readLimited reads at most limit bytes and fails as soon as one more
// byte is available.
func readLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// redirectTarget returns the absolute URL named by the Location header,
// resolved against the URL of the request that produced resp.
func redirectTarget(resp *http.Response) (string, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return "", ErrNoLocation
	}

	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadLocation, err)
	}
	if resp.Request != nil && resp.Request.URL != nil {
		ref = resp.Request.URL.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" || ref.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrBadLocation, location)
	}
	return ref.String(), nil
}
