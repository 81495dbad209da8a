// Package event определяет типобезопасную внутрипроцессную шину событий.
// Кеш запросов использует ее для уведомления наблюдателей об изменениях
// состояния записей.
package event

import "context"

// Event определяет минимальный контракт для любого события, которое может быть
// передано через шину.
type Event interface {
	// Topic возвращает имя топика, к которому относится событие.
	Topic() string
}

// EventHandler — это тип для функции-обработчика, которая принимает контекст
// и конкретный тип события.
type EventHandler[T Event] func(ctx context.Context, event T) error

// ErrorHandler — это функция для обработки ошибок, возникших в EventHandler.
type ErrorHandler[T Event] func(err error, event T)

// Middleware — это функция-декоратор для EventHandler.
type Middleware[T Event] func(next EventHandler[T]) EventHandler[T]

// subscriptionOptions определяет набор параметров для конфигурации конкретной подписки.
type subscriptionOptions[T Event] struct {
	// isAsync указывает, должен ли обработчик выполняться в пуле воркеров.
	isAsync bool
	// filter отбрасывает события, для которых возвращает false.
	filter func(T) bool
	// errorHandler задает пользовательскую функцию для обработки ошибок.
	errorHandler ErrorHandler[T]
	// middleware содержит цепочку декораторов обработчика.
	middleware []Middleware[T]
}

// SubscribeOption — это функциональная опция для настройки подписки.
type SubscribeOption[T Event] func(*subscriptionOptions[T])

// WithAsync — опция, включающая асинхронный режим обработки для подписчика.
func WithAsync[T Event]() SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.isAsync = true
	}
}

// WithFilter — опция, ограничивающая доставку событиями, удовлетворяющими предикату.
func WithFilter[T Event](filter func(T) bool) SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.filter = filter
	}
}

// WithErrorHandler — опция, позволяющая задать пользовательский обработчик ошибок.
func WithErrorHandler[T Event](handler ErrorHandler[T]) SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.errorHandler = handler
	}
}

// WithMiddleware добавляет локальные middleware, которые применяются только к данной подписке.
func WithMiddleware[T Event](mw ...Middleware[T]) SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.middleware = append(o.middleware, mw...)
	}
}
