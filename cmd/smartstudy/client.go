package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/smartstudy-sync/apimodel"
	"github.com/jrsteele09/smartstudy-sync/collections"
	"github.com/jrsteele09/smartstudy-sync/credentials"
	"github.com/jrsteele09/smartstudy-sync/gateway"
	"github.com/jrsteele09/smartstudy-sync/internal/config"
	"github.com/jrsteele09/smartstudy-sync/internal/metrics"
	"github.com/jrsteele09/smartstudy-sync/queue"
	"github.com/jrsteele09/smartstudy-sync/session"
	"github.com/jrsteele09/smartstudy-sync/storage"
	"github.com/jrsteele09/smartstudy-sync/storage/backends"
	"github.com/prometheus/client_golang/prometheus"
)

// client wires the sync core together for one CLI invocation.
type client struct {
	cfg        config.Config
	out        io.Writer
	store      storage.Store
	closer     io.Closer
	queue      *queue.Queue
	gateway    *gateway.Gateway
	controller *session.Controller
	syncer     *collections.Syncer
	registry   *prometheus.Registry
}

func newClient(ctx context.Context, cfg config.Config, out io.Writer) (*client, error) {
	store, closer, err := backends.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &client{cfg: cfg, out: out, store: store, closer: closer, registry: prometheus.NewRegistry()}
	recorder := metrics.NewCollector(c.registry)
	c.queue = queue.New(store)
	creds := credentials.NewStore(store)
	c.gateway = gateway.New(cfg.GetAPIBase(), creds, c.queue,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.GetRequestTimeout()}),
		gateway.WithRefreshLeeway(cfg.GetRefreshLeeway()),
		gateway.WithDefaultLifetime(cfg.GetDefaultTokenLifetime()),
		gateway.WithMetrics(recorder),
	)
	app := session.NewAppContext()
	c.syncer = collections.NewSyncer(c.gateway, c.queue, store, app,
		collections.WithRenderer(session.RendererFunc(c.render)),
		collections.WithMetrics(recorder),
	)
	c.controller = session.NewController(c.gateway, creds, store, app,
		session.WithOnAuthenticated(func(ctx context.Context, _ apimodel.User) {
			c.syncer.Bootstrap(ctx, true)
		}),
	)
	return c, nil
}

func (c *client) Close() error {
	return c.closer.Close()
}

func (c *client) render(view session.AppView) {
	counts := make([]string, 0, len(apimodel.CollectionNames))
	for _, name := range apimodel.CollectionNames {
		counts = append(counts, fmt.Sprintf("%s: %d", name, len(view.Data.Get(name))))
	}
	fmt.Fprintln(c.out, strings.Join(counts, "  "))
}

// requireSession restores the persisted session or fails.
func (c *client) requireSession(ctx context.Context) (*apimodel.User, error) {
	ok, err := c.controller.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotSignedIn
	}
	return c.controller.App().User(), nil
}
