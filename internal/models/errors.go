package models

import "errors"

// Таксономия ошибок ядра. Сервисы оборачивают их через fmt.Errorf("...: %w").
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
)

// ErrorCode возвращает машинно-читаемый код ошибки для ответов клиентам
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	default:
		return "INTERNAL"
	}
}
