package event

import (
	"context"
	"errors"
	"fmt"
)

// ErrBusClosed возвращается при публикации или подписке после Shutdown.
var ErrBusClosed = errors.New("шина событий остановлена")

// IBus определяет строго типизированный интерфейс для публикации и подписки
// на события конкретного типа T.
type IBus[T Event] interface {
	// Publish публикует событие типа T в шину.
	// Ошибки обработчиков не возвращаются публикующей стороне.
	Publish(ctx context.Context, event T) error

	// Subscribe подписывает строго типизированный обработчик на события типа T.
	Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error)

	// Shutdown корректно завершает работу шины, дожидаясь асинхронных обработчиков.
	Shutdown(ctx context.Context) error
}

// busImpl - это реализация строго типизированной шины событий.
type busImpl[T Event] struct {
	topic    string
	provider *localProvider[T]
}

// NewBus создает новый экземпляр шины для типа события T и связанного с ним топика.
func NewBus[T Event](topic string, opts ...Option) (IBus[T], error) {
	if topic == "" {
		return nil, fmt.Errorf("topic не может быть пустым")
	}

	cfg := newConfig(opts)
	return &busImpl[T]{
		topic:    topic,
		provider: newLocalProvider[T](topic, cfg),
	}, nil
}

// Publish публикует событие в шину. События чужого топика отклоняются.
func (b *busImpl[T]) Publish(ctx context.Context, event T) error {
	if event.Topic() != b.topic {
		return fmt.Errorf("событие топика '%s' не может быть опубликовано в шину '%s'", event.Topic(), b.topic)
	}
	return b.provider.Publish(ctx, event)
}

// Subscribe подписывает обработчик на события.
func (b *busImpl[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error) {
	if handler == nil {
		return nil, fmt.Errorf("обработчик для топика '%s' не может быть nil", b.topic)
	}
	return b.provider.Subscribe(handler, opts...)
}

// Shutdown завершает работу шины.
func (b *busImpl[T]) Shutdown(ctx context.Context) error {
	return b.provider.Shutdown(ctx)
}
