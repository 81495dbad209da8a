package event

import "context"

// Task представляет собой атомарную задачу для асинхронного выполнения:
// событие и подписка, которой оно адресовано.
type Task[T Event] struct {
	ctx   context.Context
	event T
	sub   *subscription[T]
}
