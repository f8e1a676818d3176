package oltsdk

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/oltmanager/pkg/slogx"
	"golang.org/x/time/rate"
)

// Default request budget; bursts cover a login followed by a profile fetch.
const (
	DefaultRateLimit = 10
	DefaultBurst     = 5
)

// SDKClient is a client for the OLT Manager HTTP API.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// Limiter throttles outbound requests. Nil disables throttling.
	Limiter *rate.Limiter

	// Logger records client-side events such as limiter waits.
	Logger *slog.Logger
}

// NewSDKClient creates a client whose transport logs every request and which
// is limited to DefaultRateLimit requests per second.
func NewSDKClient(baseURL string, logger *slog.Logger) *SDKClient {
	logger = slogx.OrDefault(logger).With("component", "oltsdk")

	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: slogx.NewTransport(nil, logger),
		},
		Limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultBurst),
		Logger:  logger,
	}
}

// SetRateLimit replaces the limiter. perSecond <= 0 disables throttling.
func (c *SDKClient) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		c.Limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.Limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}
