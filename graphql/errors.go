package graphql

import (
	"errors"
	"fmt"
	"strings"
)

const bodySnippetLimit = 512

var (
	// ErrNoData возвращается внутри DecodeError, когда успешный ответ не содержит поля data.
	ErrNoData = errors.New("ответ не содержит данных")
	// ErrResponseTooLarge возвращается, когда тело ответа превышает допустимый размер.
	ErrResponseTooLarge = errors.New("тело ответа превышает допустимый размер")
)

// TransportError описывает сбой на сетевом уровне: отказ соединения, таймаут
// или HTTP-статус вне диапазона 2xx без тела с ошибками GraphQL.
type TransportError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		if e.StatusCode != 0 {
			return fmt.Sprintf("ошибка транспорта (HTTP %d): %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("ошибка транспорта: %v", e.Err)
	}
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d", e.StatusCode)
	}
	return fmt.Sprintf("ошибка транспорта: неуспешный HTTP-статус %s", status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// GraphQLError описывает корректно сформированный ответ сервера с массивом errors.
// Сообщение берется из первой ошибки, но все ошибки сохраняются для диагностики.
type GraphQLError struct {
	StatusCode int
	Errors     []Error
	// Data содержит частичные данные, если сервер их вернул.
	Data []byte
}

func (e *GraphQLError) Error() string {
	if len(e.Errors) == 0 {
		return "ошибка GraphQL без описания"
	}
	var b strings.Builder
	b.WriteString("ошибка GraphQL: ")
	b.WriteString(e.Errors[0].Message)
	if path := formatPath(e.Errors[0].Path); path != "" {
		fmt.Fprintf(&b, " (путь: %s)", path)
	}
	if extra := len(e.Errors) - 1; extra > 0 {
		fmt.Fprintf(&b, " и еще ошибок: %d", extra)
	}
	return b.String()
}

// Message возвращает сообщение первой ошибки.
func (e *GraphQLError) Message() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Message
}

// DecodeError описывает ответ, который не является корректным JSON или не
// соответствует ожидаемой форме результата.
type DecodeError struct {
	Err error
	// Body содержит начало тела ответа (не более 512 байт).
	Body []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("не удалось декодировать ответ: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Retryable сообщает, имеет ли смысл повторять запрос, завершившийся ошибкой err.
// Ошибки транспорта и ошибки GraphQL допускают повтор, если он явно настроен;
// DecodeError и прочие ошибки не повторяются никогда.
func Retryable(err error) bool {
	var transportErr *TransportError
	var gqlErr *GraphQLError
	return errors.As(err, &transportErr) || errors.As(err, &gqlErr)
}

// Outcome классифицирует результат запроса для метрик и логов.
func Outcome(err error) string {
	var (
		transportErr *TransportError
		gqlErr       *GraphQLError
		decodeErr    *DecodeError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &transportErr):
		return "transport_error"
	case errors.As(err, &gqlErr):
		return "graphql_error"
	case errors.As(err, &decodeErr):
		return "decode_error"
	default:
		return "error"
	}
}

func formatPath(path []any) string {
	if len(path) == 0 {
		return ""
	}
	parts := make([]string, 0, len(path))
	for _, p := range path {
		parts = append(parts, fmt.Sprint(p))
	}
	return strings.Join(parts, ".")
}

func snippet(body []byte) []byte {
	if len(body) > bodySnippetLimit {
		body = body[:bodySnippetLimit]
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out
}
