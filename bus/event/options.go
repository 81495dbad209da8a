package event

import "log/slog"

const (
	defaultWorkers   = 2
	defaultQueueSize = 100
)

// config содержит неэкспортируемую конфигурацию для шины событий.
type config struct {
	logger       *slog.Logger
	workers      int
	queueSize    int
	dropWhenFull bool
}

// Option определяет тип для функциональных опций, которые изменяют конфигурацию шины.
type Option func(*config)

// WithLogger возвращает опцию, которая устанавливает логгер для шины событий.
// Логгер используется для записи ошибок обработчиков.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithWorkerPoolConfig настраивает пул горутин для асинхронных обработчиков.
func WithWorkerPoolConfig(workers, queueSize int) Option {
	return func(c *config) {
		c.workers = workers
		c.queueSize = queueSize
	}
}

// WithDropWhenFull возвращает опцию, при которой Publish не ждет места в очереди
// пула: событие для асинхронного подписчика отбрасывается с записью в лог.
// Синхронные подписчики по-прежнему вызываются в горутине публикующего.
func WithDropWhenFull() Option {
	return func(c *config) {
		c.dropWhenFull = true
	}
}

func newConfig(opts []Option) *config {
	cfg := &config{
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	if cfg.queueSize < 0 {
		cfg.queueSize = 0
	}
	return cfg
}
