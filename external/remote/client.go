package remote

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
)

const userAgentHeader = "User-Agent"

type Client struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

// NewClient creates a fetcher that sends the given user agent with every request and gives up
// after timeout, measured from the start of each fetch.
func NewClient(userAgent string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{},
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Fetch issues a single GET and returns the body of a 200 response. There are no retries, the next
// invocation is the retry.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(entities.ErrTransport, "creating request for [%s]: %v", url, err)
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	request.Header.Set(userAgentHeader, c.userAgent)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, classify(ctx, err, url)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(entities.ErrUnexpectedStatus, "status [%d] from [%s]", response.StatusCode, url)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, classify(ctx, err, url)
	}
	return body, nil
}

func classify(ctx context.Context, err error, url string) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Wrapf(entities.ErrTimeout, "fetching [%s]: %v", url, err)
	}
	return errors.Wrapf(entities.ErrTransport, "fetching [%s]: %v", url, err)
}
