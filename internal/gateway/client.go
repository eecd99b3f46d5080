package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/pkg/metrics"
)

const maxResponseBytes = 16 << 20

// result is a decoded subgraph response. Numbers stay json.Number so they are
// written back unchanged.
type result struct {
	Data   map[string]any `json:"data"`
	Errors gqlerror.List  `json:"errors"`
}

// client talks to one subgraph.
type client struct {
	service Service
	http    *http.Client
}

func newClient(service Service, timeout time.Duration) *client {
	return &client{
		service: service,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *client) endpoint(path string) string {
	return strings.TrimRight(c.service.URL, "/") + path
}

// execute posts req to the subgraph with the caller identity and trace context in
// the headers. A non-2xx status or an unreadable body is a transport error.
func (c *client) execute(ctx context.Context, rc reqctx.RequestContext, kind string, req graphql.Request) (*result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s request: %w", c.service.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/graphql"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build %s request: %w", c.service.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	rc.Apply(httpReq.Header)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.SubgraphLatency.WithLabelValues(c.service.Name, kind).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("gateway: call %s: %w", c.service.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("gateway: %s answered %s", c.service.Name, resp.Status)
	}
	return decodeResult(io.LimitReader(resp.Body, maxResponseBytes))
}

// ready probes the subgraph readiness endpoint once.
func (c *client) ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health/ready"), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s readiness returned %s", c.service.Name, resp.Status)
	}
	return nil
}

// waitReady polls ready every interval until it succeeds or ctx ends.
func (c *client) waitReady(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := c.ready(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gateway: %s not ready: %w (last error: %v)", c.service.Name, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// fetchSDL asks the subgraph for its schema through _service.
func (c *client) fetchSDL(ctx context.Context) (string, error) {
	res, err := c.execute(ctx, reqctx.RequestContext{}, "sdl", graphql.Request{Query: "{ _service { sdl } }"})
	if err != nil {
		return "", err
	}
	if len(res.Errors) > 0 {
		return "", fmt.Errorf("gateway: %s _service: %s", c.service.Name, res.Errors.Error())
	}
	service, _ := res.Data["_service"].(map[string]any)
	sdl, _ := service["sdl"].(string)
	if strings.TrimSpace(sdl) == "" {
		return "", fmt.Errorf("gateway: %s returned an empty SDL", c.service.Name)
	}
	return sdl, nil
}

func decodeResult(r io.Reader) (*result, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var res result
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("gateway: decode subgraph response: %w", err)
	}
	return &res, nil
}
