package cli

import (
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dannyCSStudent/mojara/internal/cache"
	"github.com/dannyCSStudent/mojara/internal/client"
	"github.com/dannyCSStudent/mojara/internal/facade"
	"github.com/dannyCSStudent/mojara/internal/pkg/logger"
	"github.com/dannyCSStudent/mojara/internal/realtime"
	"github.com/dannyCSStudent/mojara/internal/service"
)

// app is the client stack a command runs against.
type app struct {
	orders  *facade.Facade
	service *service.OrderService
	logger  *slog.Logger
	close   func()
}

func newApp(opts *RootOptions, stderr io.Writer) (*app, error) {
	level, err := logger.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logger.New("orders-client", level, stderr)

	api := client.New(opts.BaseURL, client.StaticToken(opts.Token),
		client.WithVendorID(opts.VendorID),
		client.WithLogger(log))

	closers := []func(){}
	facadeOpts := []facade.Option{facade.WithLogger(log)}

	if opts.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		closers = append(closers, func() { _ = rdb.Close() })
		facadeOpts = append(facadeOpts, facade.WithCache(cache.NewRedisCache(rdb)))
	}

	if brokers := splitList(opts.Brokers); len(brokers) > 0 {
		source := realtime.NewKafkaSource(realtime.KafkaConfig{
			Brokers: brokers,
			Topic:   opts.Topic,
		}, realtime.WithLogger(log))
		facadeOpts = append(facadeOpts, facade.WithSubscriber(source))
	}

	orders := facade.New(api, facadeOpts...)
	svc := service.NewOrderService(orders,
		service.WithLogger(log),
		service.WithPollInterval(opts.PollInterval))

	return &app{
		orders:  orders,
		service: svc,
		logger:  log,
		close: func() {
			for _, c := range closers {
				c()
			}
		},
	}, nil
}
