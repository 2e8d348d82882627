package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"ballast/api/grpcserver"
	"ballast/infra/kafka"
	"ballast/infra/memory"
	"ballast/jobs/broadcaster"
	"ballast/service"
)

type serveOptions struct {
	grpcAddr          string
	publisher         string
	brokers           string
	topic             string
	broadcastInterval time.Duration
	maxRetries        uint32
	flushInterval     time.Duration
	ringSize          uint64
	maxPools          int
	soak              service.SoakConfig
}

var serveOpts serveOptions

func init() {
	cmd := newServeCmd()
	f := cmd.Flags()
	f.StringVar(&serveOpts.grpcAddr, "grpc-addr", ":50051", "Diagnostics gRPC listen address")
	f.StringVar(&serveOpts.publisher, "publisher", "none", "Event publisher: none, sarama, kafka-go")
	f.StringVar(&serveOpts.brokers, "brokers", "localhost:9092", "Comma-separated Kafka brokers")
	f.StringVar(&serveOpts.topic, "topic", "ballast.events", "Kafka topic for allocator events")
	f.DurationVar(&serveOpts.broadcastInterval, "broadcast-interval", 250*time.Millisecond, "Outbox drain interval")
	f.Uint32Var(&serveOpts.maxRetries, "max-retries", 0, "Give up on an event after this many failed publishes (0 = never)")
	f.DurationVar(&serveOpts.flushInterval, "flush-interval", time.Second, "Event flush interval")
	f.Uint64Var(&serveOpts.ringSize, "ring-size", 1<<12, "Events buffered between flushes (power of two)")
	f.IntVar(&serveOpts.maxPools, "max-pools", 64, "Maximum registered pools")
	f.IntVar(&serveOpts.soak.Jobs, "soak-jobs", 0, "Run a synthetic workload of this many jobs after start-up")
	f.IntVar(&serveOpts.soak.Buffers, "soak-buffers", 256, "Buffers reserved for the synthetic workload")
	f.IntVar(&serveOpts.soak.Workers, "soak-workers", 4, "Workers for the synthetic workload")
	rootCmd.AddCommand(cmd)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime with diagnostics and event forwarding",
		Long: `The serve command reserves the runtime's pools, enters steady state and
serves diagnostics until interrupted. On SIGINT or SIGTERM it enters the
deallocation phase, stores pool high-water marks, releases every pool and
drains the outbox one last time.

Example:
  ballastd serve --data-dir /var/lib/ballast --publisher sarama --brokers k1:9092,k2:9092
  ballastd serve --soak-jobs 100000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, log, serveOpts)
		},
	}
}

func newPublisher(opts serveOptions) (broadcaster.Publisher, error) {
	brokers := strings.Split(opts.brokers, ",")
	switch opts.publisher {
	case "none", "":
		return nil, nil
	case "sarama":
		return broadcaster.NewSaramaPublisher(brokers, opts.topic)
	case "kafka-go":
		return kafka.NewProducer(brokers, opts.topic), nil
	default:
		return nil, fmt.Errorf("--publisher: unknown publisher %q", opts.publisher)
	}
}

func runServe(ctx context.Context, log *slog.Logger, opts serveOptions) error {
	pub, err := newPublisher(opts)
	if err != nil {
		return err
	}

	// ---------------- Allocation ----------------

	cfg := runtimeConfig(log)
	cfg.RingSize = opts.ringSize
	cfg.MaxPools = opts.maxPools
	cfg.FlushInterval = opts.flushInterval

	rt, err := service.Open(cfg, memory.Default())
	if err != nil {
		return err
	}

	var soak *service.Soak
	if opts.soak.Jobs > 0 {
		if soak, err = service.NewSoak(rt, opts.soak); err != nil {
			_ = rt.Close()
			return err
		}
	}

	lis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("listen %s: %w", opts.grpcAddr, err)
	}

	// ---------------- Steady ----------------

	if err := rt.EnterSteady(); err != nil {
		_ = rt.Close()
		return err
	}

	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	var jobs sync.WaitGroup
	jobs.Add(1)
	go func() {
		defer jobs.Done()
		rt.Run(jobsCtx)
	}()

	var bc *broadcaster.Broadcaster
	if pub != nil {
		bc = broadcaster.New(rt.Outbox(), pub, broadcaster.Config{
			Interval:   opts.broadcastInterval,
			MaxRetries: opts.maxRetries,
		}, log)
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			bc.Run(jobsCtx)
		}()
	}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLogger(log)))
	grpcserver.Register(grpcSrv, grpcserver.NewServer(rt))
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc server exited", "err", err)
		}
	}()
	log.Info("serving", "grpc", lis.Addr().String(), "publisher", opts.publisher)

	if soak != nil {
		rep, err := soak.Run(ctx)
		if err != nil {
			log.Warn("soak", "err", err)
		} else {
			log.Info("soak finished", "processed", rep.Processed, "exhausted", rep.Exhausted)
		}
	}

	<-ctx.Done()

	// ---------------- Deallocation ----------------

	log.Info("shutting down")
	grpcSrv.GracefulStop()

	var errs []error
	errs = append(errs, rt.Deallocate())
	if soak != nil {
		errs = append(errs, soak.Release())
	}

	cancelJobs()
	jobs.Wait()
	if bc != nil {
		errs = append(errs, bc.Close())
	}
	errs = append(errs, rt.Close())
	return errors.Join(errs...)
}
