// Package gateway composes the subgraph schemas into one client graph and executes
// client operations by fanning them out to the subgraphs that own each field.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/pkg/logger"
)

// Config describes the subgraphs behind the gateway and its timing.
type Config struct {
	Subgraphs      []Service
	StartupTimeout time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// Gateway serves the composed graph. It is not usable until Start succeeds.
type Gateway struct {
	cfg      Config
	verifier reqctx.TokenVerifier
	clients  map[string]*client
	super    atomic.Pointer[Supergraph]
	log      *zap.Logger
}

// New validates cfg and prepares one client per subgraph. verifier checks bearer
// tokens when deriving the caller identity; nil treats every caller as anonymous.
func New(cfg Config, verifier reqctx.TokenVerifier) (*Gateway, error) {
	if len(cfg.Subgraphs) == 0 {
		return nil, errors.New("gateway: no subgraphs configured")
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	clients := make(map[string]*client, len(cfg.Subgraphs))
	for _, svc := range cfg.Subgraphs {
		if svc.Name == "" || svc.URL == "" {
			return nil, fmt.Errorf("gateway: subgraph %q needs a name and a url", svc.Name)
		}
		if _, dup := clients[svc.Name]; dup {
			return nil, fmt.Errorf("gateway: subgraph %q configured twice", svc.Name)
		}
		clients[svc.Name] = newClient(svc, cfg.RequestTimeout)
	}

	return &Gateway{
		cfg:      cfg,
		verifier: verifier,
		clients:  clients,
		log:      logger.WithModule("gateway"),
	}, nil
}

// Start waits for every subgraph to report ready, fetches their SDL and composes the
// supergraph. Any failure is returned and the gateway stays unavailable; callers
// treat it as fatal.
func (g *Gateway) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StartupTimeout)
	defer cancel()

	defs := make([]ServiceDefinition, len(g.cfg.Subgraphs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, svc := range g.cfg.Subgraphs {
		c := g.clients[svc.Name]
		eg.Go(func() error {
			if err := c.waitReady(egCtx, g.cfg.PollInterval); err != nil {
				return err
			}
			sdl, err := c.fetchSDL(egCtx)
			if err != nil {
				return err
			}
			defs[i] = ServiceDefinition{Service: svc, SDL: sdl}
			g.log.Info("subgraph ready", zap.String("subgraph", svc.Name), zap.String("url", svc.URL))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	super, err := Compose(defs)
	if err != nil {
		return err
	}
	g.super.Store(super)
	g.log.Info("supergraph composed", zap.Int("subgraphs", len(defs)), zap.Int("types", len(super.schema.Types)))
	return nil
}

// Supergraph returns the composed graph, or nil before Start succeeds.
func (g *Gateway) Supergraph() *Supergraph {
	return g.super.Load()
}

// Ready reports an error until the supergraph is composed.
func (g *Gateway) Ready(context.Context) error {
	if g.Supergraph() == nil {
		return errors.New("supergraph not composed")
	}
	return nil
}

// Identify derives the caller from the Authorization and from headers. A missing or
// invalid token yields an anonymous caller.
func (g *Gateway) Identify(r *http.Request) reqctx.RequestContext {
	return reqctx.Derive(g.verifier, r.Header.Get("Authorization"), r.Header.Get(reqctx.HeaderFrom))
}
