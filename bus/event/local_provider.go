package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-reflect"
	"github.com/google/uuid"
)

// subscription представляет собой внутреннюю структуру для хранения информации
// о конкретной подписке.
type subscription[T Event] struct {
	// id представляет собой уникальный идентификатор подписки (UUID),
	// который используется для ее удаления (отписки).
	id string
	// handler — обработчик с уже примененными middleware подписки.
	handler EventHandler[T]
	// isAsync указывает, что обработка выполняется в пуле воркеров.
	isAsync bool
	filter  func(T) bool
	// errorHandler — опциональная пользовательская обработка ошибок handler.
	errorHandler ErrorHandler[T]
}

// localProvider обрабатывает события в рамках одного процесса.
// Синхронные подписчики вызываются в горутине публикующего,
// асинхронные передаются в пул воркеров.
type localProvider[T Event] struct {
	topic        string
	logger       *slog.Logger
	pool         *workerPool[T]
	dropWhenFull bool

	mu          sync.RWMutex
	subscribers []*subscription[T]
	closed      bool
}

func newLocalProvider[T Event](topic string, cfg *config) *localProvider[T] {
	lp := &localProvider[T]{
		topic:        topic,
		logger:       cfg.logger,
		dropWhenFull: cfg.dropWhenFull,
	}
	lp.pool = newWorkerPool(cfg.workers, cfg.queueSize, func(task *Task[T]) {
		lp.invoke(task.ctx, task.event, task.sub)
	})
	lp.pool.start()
	return lp
}

// Publish доставляет событие всем подписчикам, снимок которых сделан
// в момент вызова.
func (lp *localProvider[T]) Publish(ctx context.Context, event T) error {
	lp.mu.RLock()
	if lp.closed {
		lp.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]*subscription[T], len(lp.subscribers))
	copy(subs, lp.subscribers)
	lp.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		if !sub.isAsync {
			lp.invoke(ctx, event, sub)
			continue
		}
		task := &Task[T]{ctx: context.WithoutCancel(ctx), event: event, sub: sub}
		if lp.dropWhenFull {
			if ok := lp.pool.trySubmit(task); !ok {
				lp.logger.Warn("очередь пула заполнена, событие отброшено",
					slog.String("topic", lp.topic),
					slog.String("subscription_id", sub.id),
				)
			}
			continue
		}
		if ok := lp.pool.submit(ctx, task); !ok {
			lp.logger.Warn("не удалось отправить асинхронную задачу в пул",
				slog.String("topic", lp.topic),
				slog.String("subscription_id", sub.id),
			)
		}
	}
	return nil
}

// Subscribe регистрирует обработчик и возвращает функцию отписки.
// Повторный вызов функции отписки безопасен.
func (lp *localProvider[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (func(), error) {
	subOpts := subscriptionOptions[T]{}
	for _, opt := range opts {
		opt(&subOpts)
	}

	finalHandler := handler
	for i := len(subOpts.middleware) - 1; i >= 0; i-- {
		finalHandler = subOpts.middleware[i](finalHandler)
	}

	sub := &subscription[T]{
		id:           uuid.NewString(),
		handler:      finalHandler,
		isAsync:      subOpts.isAsync,
		filter:       subOpts.filter,
		errorHandler: subOpts.errorHandler,
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.closed {
		return nil, ErrBusClosed
	}
	lp.subscribers = append(lp.subscribers, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			lp.mu.Lock()
			defer lp.mu.Unlock()
			for i, s := range lp.subscribers {
				if s.id == sub.id {
					lp.subscribers = append(lp.subscribers[:i:i], lp.subscribers[i+1:]...)
					break
				}
			}
		})
	}, nil
}

// Shutdown запрещает новые публикации и дожидается асинхронных обработчиков.
func (lp *localProvider[T]) Shutdown(ctx context.Context) error {
	lp.mu.Lock()
	lp.closed = true
	lp.subscribers = nil
	lp.mu.Unlock()
	return lp.pool.stop(ctx)
}

// invoke вызывает обработчик подписки. Ошибки и паники обработчика
// не выходят за пределы шины.
func (lp *localProvider[T]) invoke(ctx context.Context, event T, sub *subscription[T]) {
	defer func() {
		if r := recover(); r != nil {
			lp.handleError(fmt.Errorf("паника в обработчике события: %v", r), event, sub)
		}
	}()

	if err := sub.handler(ctx, event); err != nil {
		lp.handleError(err, event, sub)
	}
}

func (lp *localProvider[T]) handleError(err error, event T, sub *subscription[T]) {
	if sub.errorHandler != nil {
		sub.errorHandler(err, event)
		return
	}
	lp.logger.Error("ошибка обработки события",
		slog.String("topic", lp.topic),
		slog.String("event_type", eventTypeName(event)),
		slog.String("subscription_id", sub.id),
		slog.Any("error", err),
	)
}

// eventTypeName возвращает имя конкретного типа события для логов.
func eventTypeName(event any) string {
	t := reflect.TypeOf(event)
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
