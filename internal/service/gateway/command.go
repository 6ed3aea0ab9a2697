package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/oshokin/alarm-bridge/internal/adapter"
	"github.com/oshokin/alarm-bridge/internal/adapter/mirazh"
	"github.com/oshokin/alarm-bridge/internal/adapter/proton"
	"github.com/oshokin/alarm-bridge/internal/adapter/tandem"
	api "github.com/oshokin/alarm-bridge/internal/api/grpc/gateway"
	"github.com/oshokin/alarm-bridge/internal/bus"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/notify/mqtt"
	repo "github.com/oshokin/alarm-bridge/internal/repository/state"
	"github.com/oshokin/alarm-bridge/internal/scheduler"
	"github.com/oshokin/alarm-bridge/internal/version"
)

// Options controls the gateway process.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// LogLevel overrides the configured level when set.
	LogLevel string
}

// ErrUnknownSystem is returned for a system without an adapter.
var ErrUnknownSystem = errors.New("unknown system")

// Run starts the gateway and blocks until ctx is canceled or a component fails.
func Run(ctx context.Context, opts *Options) (err error) {
	ctx = logger.WithName(ctx, "alarm-bridge")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.LogLevel == "" && settings.LogLevel != "" && !logger.SetLevelFromString(settings.LogLevel) {
		logger.WarnKV(ctx, "Unknown log level in settings", "log_level", settings.LogLevel)
	}

	cache, closeCache, err := openRepository(ctx, settings)
	if err != nil {
		return err
	}

	defer func() { err = multierr.Append(err, closeCache()) }()

	pa, err := newAdapter(settings, cache)
	if err != nil {
		return err
	}

	stream := bus.New[alarm.Notification]()
	defer stream.Close()

	notes, unsubscribe := stream.Subscribe(bus.DefaultBuffer)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	svc := New(gctx, Params{
		Adapter:      pa,
		Repo:         cache,
		Publisher:    stream,
		Timing:       settings.Timing,
		AllowedUsers: settings.AllowedUsers,
	})

	jobs := scheduler.New(svc, scheduler.WithDefaultInterval(settings.Timing.DefaultInterval))
	svc.AttachJobs(jobs)

	if err = svc.Bootstrap(gctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	jobs.Start(gctx)

	logger.InfoKV(ctx, "Gateway starting",
		"version", version.Short(),
		"system", settings.System,
		"region", settings.Region,
		"gateway_id", settings.GatewayID,
		"panel", settings.Connection.Address())

	g.Go(func() error {
		return pa.Run(gctx, svc)
	})

	g.Go(func() error {
		return forward(gctx, settings, svc, notes)
	})

	if settings.GRPCListen != "" {
		g.Go(func() error {
			return serveGRPC(gctx, settings.GRPCListen, svc)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	logger.Info(ctx, "Gateway stopped")

	return err
}

// forward hands notifications to MQTT, or logs them when no broker is configured.
func forward(ctx context.Context, settings *config.Config, svc *Service, notes <-chan alarm.Notification) error {
	if len(settings.MQTT.Servers) == 0 {
		logger.Warn(ctx, "No MQTT servers configured, notifications are only logged")

		for {
			select {
			case <-ctx.Done():
				return nil
			case n, ok := <-notes:
				if !ok {
					return nil
				}

				logger.InfoKV(ctx, "Notification", "kind", n.Kind.String(), "device_id", n.DeviceID())
			}
		}
	}

	client := mqtt.New(settings, svc)
	if err := client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("connect mqtt: %w", err)
	}

	return client.Run(ctx, notes)
}

func serveGRPC(ctx context.Context, address string, svc *Service) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	server := grpc.NewServer()
	api.Register(server, api.NewServer(svc))

	logger.InfoKV(ctx, "Control service listening", "listen_address", address)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		server.GracefulStop()
		close(done)
	}()

	if err = server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done

	return nil
}

// openRepository picks Redis, then the state file, then memory.
func openRepository(ctx context.Context, settings *config.Config) (repo.Repository, func() error, error) {
	noop := func() error { return nil }

	switch {
	case settings.Redis.Addr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})

		cache := repo.NewRedisRepository(client, settings.KeyPrefix())
		if err := cache.Ping(ctx); err != nil {
			return nil, nil, multierr.Append(fmt.Errorf("connect redis: %w", err), cache.Close())
		}

		logger.InfoKV(ctx, "State cache in Redis", "addr", settings.Redis.Addr, "prefix", settings.KeyPrefix())

		return cache, cache.Close, nil
	case settings.StateFile != "":
		cache, err := repo.NewFileRepository(settings.StateFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open state file: %w", err)
		}

		logger.InfoKV(ctx, "State cache in file", "state_file", settings.StateFile)

		return cache, noop, nil
	default:
		logger.Warn(ctx, "State cache is in memory and will not survive a restart")

		return repo.NewMemoryRepository(), noop, nil
	}
}

func newAdapter(settings *config.Config, cache repo.Repository) (adapter.ProtocolAdapter, error) {
	switch settings.System {
	case config.SystemProton:
		return proton.New(settings), nil
	case config.SystemTandem:
		return tandem.New(settings), nil
	case config.SystemMirazh:
		return mirazh.New(settings, cache), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSystem, settings.System)
	}
}
