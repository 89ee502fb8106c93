package serverutils

// AppError is a client-visible failure with a stable HTTP status code.
// Anything that is not an AppError surfaces as a generic 500 so upstream
// provider detail never leaks to callers.
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

func NewBadRequestError(message string) *AppError {
	return &AppError{Code: 400, Message: message}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: 401, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: 404, Message: message}
}
