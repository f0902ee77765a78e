package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/smartstudy-sync/internal/config"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/internal/logging"
	"github.com/rs/zerolog/log"
)

const usage = `usage: smartstudy <command> [flags]

commands:
  login     -email -password        sign in
  register  -name -email -password  create an account and sign in
  logout                            forget the local session
  status                            show the session, pending writes and local data
  sync                              fetch every collection and flush pending writes
  add       [-method] <path> <json> write a record ("notes", "notes&id=7")
  flush                             replay pending writes
  run                               keep the session in sync until interrupted
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Error().Err(err).Msg("smartstudy failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = fmt.Errorf("panic recovered: %v", r)
		}
	}()

	if len(args) == 0 {
		return errUsage
	}
	cfg := config.New()
	logging.Setup(cfg.GetEnv(), cfg.GetLogLevel(), os.Stderr)

	cmd, ok := commands[args[0]]
	if !ok {
		return errUsage
	}
	c, err := newClient(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer c.Close()
	return cmd(ctx, c, args[1:])
}

func displayAppname(out io.Writer, appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(out, myFigure.String())
}
