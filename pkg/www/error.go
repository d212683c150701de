package www

import (
	"fmt"
	"net/http"
)

// HTTPError is an object that can be panic'ed, and the outer HTTP handler function
// will return the appropriate HTTP error message.
type HTTPError struct {
	Code    int
	Message string
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("%v %v", e.Code, e.Message)
}

// Panic creates an HTTPError object and panics it.
func Panic(code int, message string) {
	panic(HTTPError{code, message})
}

// PanicBadRequestf panics with a 400 Bad Request.
func PanicBadRequestf(format string, args ...any) {
	panic(HTTPError{http.StatusBadRequest, fmt.Sprintf(format, args...)})
}

// PanicNotFound panics with a 404 Not Found.
func PanicNotFound() {
	panic(HTTPError{http.StatusNotFound, "Not Found"})
}

// PanicConflictf panics with a 409 Conflict, for requests that don't fit the current state.
func PanicConflictf(format string, args ...any) {
	panic(HTTPError{http.StatusConflict, fmt.Sprintf(format, args...)})
}

// Check causes a panic if err is not nil.
func Check(err error) {
	if err != nil {
		panic(err)
	}
}
