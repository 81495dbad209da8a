// Package graphql реализует построитель запросов к GraphQL-эндпоинтам сабграфов.
// Каждый вызов Operation выполняет ровно один цикл запрос/ответ по HTTP:
// без повторов и без кеширования, эти задачи решает вызывающая сторона.
package graphql

import (
	"maps"

	json "github.com/goccy/go-json"
)

// Request представляет собой неизменяемый дескриптор запроса: имя операции,
// документ, переменные и дополнительные заголовки транспорта.
// Создается один раз на месте вызова и никогда не модифицируется.
type Request struct {
	name      string
	document  string
	variables any
	headers   map[string]string
}

// RequestOption определяет функциональную опцию для настройки дескриптора запроса.
type RequestOption func(*Request)

// WithRequestHeader добавляет заголовок, который будет отправлен только с этим запросом.
func WithRequestHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.headers == nil {
			r.headers = make(map[string]string)
		}
		r.headers[key] = value
	}
}

// WithRequestHeaders добавляет несколько заголовков запроса.
func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(r *Request) {
		if r.headers == nil {
			r.headers = make(map[string]string, len(headers))
		}
		maps.Copy(r.headers, headers)
	}
}

// NewRequest создает дескриптор запроса. variables может быть структурой с
// json-тегами, картой или nil; nil отправляется как пустой объект.
func NewRequest(name, document string, variables any, opts ...RequestOption) Request {
	r := Request{
		name:      name,
		document:  document,
		variables: variables,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Name возвращает имя операции.
func (r Request) Name() string { return r.name }

// Document возвращает текст GraphQL-документа.
func (r Request) Document() string { return r.document }

// Variables возвращает переменные запроса в том виде, в котором они были переданы.
func (r Request) Variables() any { return r.variables }

// Headers возвращает копию заголовков запроса.
func (r Request) Headers() map[string]string { return maps.Clone(r.headers) }

// withHeaders возвращает копию запроса с дополнительными заголовками.
func (r Request) withHeaders(extra map[string]string) Request {
	if len(extra) == 0 {
		return r
	}
	headers := make(map[string]string, len(r.headers)+len(extra))
	maps.Copy(headers, r.headers)
	maps.Copy(headers, extra)
	r.headers = headers
	return r
}

// payload - тело HTTP-запроса.
type payload struct {
	Query     string `json:"query"`
	Variables any    `json:"variables"`
}

// Response - декодированный конверт ответа GraphQL-сервера.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []Error         `json:"errors,omitempty"`
}

// Error описывает один элемент массива errors ответа.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Locations  []Location     `json:"locations,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Location указывает на позицию в документе, вызвавшую ошибку.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}
