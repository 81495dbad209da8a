// Package query реализует кеш запросов к сабграфам с объединением
// одновременных запросов (single-flight), а также типизированные диспетчеры
// именованных операций поверх этого кеша.
package query

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

var (
	// ErrDisabled возвращается Get, если выполнение запроса выключено
	// опцией WithEnabled(false) и в кеше нет значения.
	ErrDisabled = errors.New("выполнение запроса отключено")
	// ErrClosed возвращается после вызова Cache.Close.
	ErrClosed = errors.New("кеш запросов закрыт")
	// ErrTypeMismatch возвращается, если значение в кеше имеет тип,
	// отличный от запрошенного.
	ErrTypeMismatch = errors.New("тип значения в кеше не совпадает с запрошенным")
	// ErrPanic оборачивает панику, возникшую при загрузке значения.
	ErrPanic = errors.New("паника при выполнении запроса")
)

// Key идентифицирует запрос в кеше: имя операции, область (например,
// развертывание сабграфа) и канонический JSON переменных.
// Ключи сравнимы оператором ==.
type Key struct {
	Operation string
	Scope     string
	Variables string
}

// NewKey строит ключ по имени операции и переменным. Переменные сериализуются
// в канонический JSON с отсортированными ключами объектов, поэтому
// структурно равные переменные дают равные ключи.
func NewKey(operation string, variables any) (Key, error) {
	vars, err := canonicalJSON(variables)
	if err != nil {
		return Key{}, fmt.Errorf("не удалось построить ключ для операции '%s': %w", operation, err)
	}
	return Key{Operation: operation, Variables: vars}, nil
}

// WithScope возвращает копию ключа с указанной областью.
func (k Key) WithScope(scope string) Key {
	k.Scope = scope
	return k
}

// String возвращает строковое представление ключа.
func (k Key) String() string {
	if k.Scope == "" {
		return k.Operation + ":" + k.Variables
	}
	return k.Scope + "/" + k.Operation + ":" + k.Variables
}

func canonicalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", err
	}
	if generic == nil {
		return "{}", nil
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// State описывает состояние записи кеша.
type State int

const (
	// StateIdle — запись создана, но запрос не выполнялся (например, выключен).
	StateIdle State = iota
	// StateFetching — выполняется загрузка.
	StateFetching
	// StateSuccess — последнее выполнение завершилось успешно.
	StateSuccess
	// StateFailed — последнее выполнение завершилось ошибкой.
	StateFailed
	// StateStale — значение есть, но устарело или инвалидировано.
	StateStale
)

// String возвращает имя состояния.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateStale:
		return "stale"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result — снимок записи кеша, приведенный к типу R.
type Result[R any] struct {
	Value     R
	HasValue  bool
	Err       error
	State     State
	UpdatedAt time.Time
}

// EntryTopic — топик шины событий для изменений записей кеша.
const EntryTopic = "query.entry"

// EntryEvent публикуется при каждом изменении состояния записи кеша.
type EntryEvent struct {
	Key       Key
	State     State
	Err       error
	UpdatedAt time.Time
}

// Topic реализует event.Event.
func (EntryEvent) Topic() string { return EntryTopic }

// EntrySnapshot описывает запись кеша для диагностики.
type EntrySnapshot struct {
	Key       Key
	State     State
	HasValue  bool
	Err       error
	UpdatedAt time.Time
	Waiters   int
	Observers int
}

// Stats содержит счетчики работы кеша с момента создания.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Fetches   uint64
	Joins     uint64
	Retries   uint64
	Failures  uint64
	Evictions uint64
}
