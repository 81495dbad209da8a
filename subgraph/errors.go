package subgraph

import "errors"

var (
	// ErrMissingVariable возвращается, если не задана обязательная переменная.
	// Запрос в этом случае не выполняется, как при WithEnabled(false).
	ErrMissingVariable = errors.New("не задана обязательная переменная")
	// ErrInvalidVariable возвращается для недопустимого значения переменной.
	ErrInvalidVariable = errors.New("недопустимое значение переменной")
	// ErrInvalidAddress возвращается для строки, не являющейся адресом.
	ErrInvalidAddress = errors.New("недопустимый адрес")
	// ErrUnknownDeployment возвращается, если развертывание не настроено.
	ErrUnknownDeployment = errors.New("неизвестное развертывание сабграфа")
	// ErrUnknownOperation возвращается для имени операции вне каталога.
	ErrUnknownOperation = errors.New("неизвестная операция")
)
