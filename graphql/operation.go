package graphql

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
)

// Operation - отложенная единица работы без аргументов, кроме контекста.
// Каждый вызов выполняет ровно один сетевой запрос и возвращает типизированный
// результат или ошибку.
type Operation[R any] func(ctx context.Context) (R, error)

// Build связывает исполнителя и дескриптор запроса в Operation, декодирующую
// поле data ответа в тип R.
func Build[R any](exec Executor, req Request) Operation[R] {
	return func(ctx context.Context) (R, error) {
		var zero R

		resp, err := exec.Execute(ctx, req)
		if err != nil {
			return zero, err
		}

		var out R
		if err := json.Unmarshal(resp.Data, &out); err != nil {
			return zero, &DecodeError{
				Err:  fmt.Errorf("данные операции '%s' не соответствуют типу %T: %w", req.Name(), out, err),
				Body: snippet(resp.Data),
			}
		}
		return out, nil
	}
}
