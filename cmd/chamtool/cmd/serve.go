package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceCham/internal/config"
	"github.com/OpenTraceLab/OpenTraceCham/internal/events"
	"github.com/OpenTraceLab/OpenTraceCham/internal/metrics"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/cham"
)

const shutdownTimeout = 5 * time.Second

var (
	serveSim    bool
	serveListen string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the registry running and export its state",
	Long: `Populate the registry from sysfs (or the simulation with --sim), serve
prometheus metrics and publish MQTT events until interrupted. On SIGINT or
SIGTERM every controller is detached before exiting.

Examples:
  chamtool serve --config /etc/chamtool/config.yaml
  chamtool serve --sim --config testdata/sim.yaml --listen 127.0.0.1:9479`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveSim, "sim", false, "use the simulation section instead of sysfs")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "metrics listen address (enables metrics)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = serveListen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, serveSim, os.Stdout)
}

// serve runs until ctx is done, then tears the registry down.
func serve(ctx context.Context, cfg *config.Config, sim bool, out io.Writer) error {
	logger := newLogger(cfg)
	collector := metrics.New()
	opts := []cham.Option{cham.WithObserver(collector)}

	var notifier *events.Notifier
	if cfg.MQTT.Enabled {
		client, err := events.Connect(cfg.MQTT)
		if err != nil {
			return err
		}
		defer client.Close()
		notifier = events.NewNotifier(client, events.Topics{Prefix: cfg.MQTT.TopicPrefix},
			byte(cfg.MQTT.QoS), logger.With("component", "events"))
		opts = append(opts, cham.WithObserver(notifier))
	}

	// The notifier outlives the registry so detach events still go out.
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		if notifier != nil {
			notifier.Run(notifyCtx)
		}
	}()
	defer func() {
		stopNotify()
		<-notifyDone
	}()

	reg, err := populate(ctx, cfg, sim, collector, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("registry teardown", "err", err)
		}
	}()

	fmt.Fprintf(out, "Attached %d controller(s)\n", len(reg.FPGAs()))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, collector.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		fmt.Fprintf(out, "Serving metrics on http://%s%s\n", ln.Addr(), cfg.Metrics.Path)

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return nil
	})
	return g.Wait()
}

func populate(ctx context.Context, cfg *config.Config, sim bool, collector *metrics.Collector,
	logger cham.Logger, opts []cham.Option) (*cham.Registry, error) {
	onError := func(dev bus.Device, err error) {
		collector.AttachFailed(err)
	}
	if sim {
		return buildSim(ctx, cfg, onError, opts...)
	}

	ctls, err := sysfsControllers(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append([]cham.Option{
		cham.WithIRQPolicy(cfg.IRQPolicy()),
		cham.WithLogger(logger),
	}, opts...)
	reg := cham.NewRegistry(opts...)
	attachAll(ctx, reg, ctls, onError)
	return reg, nil
}
