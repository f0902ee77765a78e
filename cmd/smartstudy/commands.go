package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/smartstudy-sync/collections"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/internal/metrics"
	"github.com/jrsteele09/smartstudy-sync/storage"
	"github.com/jrsteele09/smartstudy-sync/storage/filestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	errUsage       = errors.New("invalid usage")
	errNotSignedIn = errors.New("not signed in, run smartstudy login first")
)

type command func(ctx context.Context, c *client, args []string) error

var commands = map[string]command{
	"login":    loginCmd,
	"register": registerCmd,
	"logout":   logoutCmd,
	"status":   statusCmd,
	"sync":     syncCmd,
	"add":      addCmd,
	"flush":    flushCmd,
	"run":      runCmd,
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func loginCmd(ctx context.Context, c *client, args []string) error {
	fs := newFlagSet("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := parse(fs, args); err != nil {
		return err
	}
	user, err := c.controller.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Signed in as %s <%s>\n", user.Name, user.Email)
	return nil
}

func registerCmd(ctx context.Context, c *client, args []string) error {
	fs := newFlagSet("register")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := parse(fs, args); err != nil {
		return err
	}
	user, err := c.controller.Register(ctx, *name, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Registered and signed in as %s <%s>\n", user.Name, user.Email)
	return nil
}

func logoutCmd(ctx context.Context, c *client, _ []string) error {
	c.controller.Logout(ctx)
	fmt.Fprintln(c.out, "Signed out")
	return nil
}

func statusCmd(ctx context.Context, c *client, _ []string) error {
	if _, err := c.controller.Restore(ctx); err != nil {
		return err
	}
	view := c.controller.App().View()
	if view.User == nil {
		fmt.Fprintf(c.out, "State: %s\n", view.State)
	} else {
		fmt.Fprintf(c.out, "State: %s as %s <%s>\n", view.State, view.User.Name, view.User.Email)
	}

	pending, err := c.queue.Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Pending writes: %d\n", pending)

	snapshot, err := c.syncer.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	c.controller.App().SetData(snapshot)
	c.render(c.controller.App().View())
	return nil
}

func syncCmd(ctx context.Context, c *client, _ []string) error {
	if _, err := c.requireSession(ctx); err != nil {
		return err
	}
	c.syncer.FetchAll(ctx)
	return flush(ctx, c)
}

func flushCmd(ctx context.Context, c *client, _ []string) error {
	if _, err := c.requireSession(ctx); err != nil {
		return err
	}
	return flush(ctx, c)
}

func flush(ctx context.Context, c *client) error {
	result, err := c.syncer.FlushQueue(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Replayed %d, still pending %d\n", result.Replayed, result.Requeued)
	if result.Err != nil {
		fmt.Fprintf(c.out, "Stopped at: %v\n", result.Err)
	}
	return nil
}

func addCmd(ctx context.Context, c *client, args []string) error {
	fs := newFlagSet("add")
	method := fs.String("method", http.MethodPost, "POST, PUT or DELETE")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errUsage
	}
	var body json.RawMessage
	if fs.NArg() == 2 {
		body = json.RawMessage(fs.Arg(1))
		if !json.Valid(body) {
			return errors.Wrapf(errors.ErrInvalidInput, "record is not valid JSON")
		}
	}
	if _, err := c.requireSession(ctx); err != nil {
		return err
	}

	result, err := c.syncer.Save(ctx, fs.Arg(0), strings.ToUpper(*method), body)
	if err != nil {
		return err
	}
	if result.Queued {
		fmt.Fprintln(c.out, "Offline: saved locally, will sync when the API is reachable")
		return nil
	}
	fmt.Fprintf(c.out, "Saved: %s\n", result.Response)
	return nil
}

// runCmd keeps the session in sync until ctx is cancelled or the session is
// ended by another process sharing the data folder.
func runCmd(ctx context.Context, c *client, _ []string) error {
	displayAppname(c.out, c.cfg.GetAppName())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	user, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("user_id", user.ID.String()).Msg("session restored")

	if addr := c.cfg.GetMetricsAddr(); addr != "" {
		server := newMetricsServer(addr, c.registry)
		go func() {
			log.Info().Str("addr", addr).Msg("serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		defer shutdownServer(server)
	}

	c.syncer.Bootstrap(ctx, false)

	monitor := collections.NewMonitor(&collections.HTTPProber{URL: c.cfg.GetProbeURL()}, c.syncer,
		collections.WithInterval(c.cfg.GetProbeInterval()),
		collections.WithJitter(c.cfg.GetProbeJitter()),
		collections.WithOnChange(func(online bool) {
			if online {
				c.syncer.FetchAll(ctx)
			}
		}),
	)

	var signedOut atomic.Bool
	if fs, ok := c.store.(*filestore.Store); ok {
		go func() {
			err := fs.Watch(ctx, func(key storage.Key) {
				if key != storage.TokensKey && key != storage.CurrentUserKey {
					return
				}
				restored, err := c.controller.Restore(ctx)
				if err == nil && !restored {
					log.Info().Msg("signed out by another process")
					signedOut.Store(true)
					cancel()
				}
			})
			if err != nil {
				log.Warn().Err(err).Msg("cannot watch the data folder")
			}
		}()
	}

	if err := monitor.Run(ctx); err != nil {
		return err
	}
	if signedOut.Load() {
		return errNotSignedIn
	}
	return nil
}

func newMetricsServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(gatherer))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func shutdownServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown")
	}
}
