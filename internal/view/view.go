package view

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

type Response[T any] struct {
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
	Data    T        `json:"data,omitempty"`
}

type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// Pagination accompanies list responses.
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

func NewPagination(total int64, page, limit int) Pagination {
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Pagination{Total: total, Page: page, Limit: limit, Pages: pages}
}

// CreateResponse builds the envelope. When err is set, message is returned as the
// failure message; the error detail is only included when hideDetail is false.
func CreateResponse[T any](data T, err error, message string, hideDetail bool) Response[T] {
	if err == nil {
		return Response[T]{Status: "success", Message: message, Data: data}
	}

	res := Response[T]{Status: "error", Message: message, Data: data}
	if res.Message == "" {
		res.Message = "request failed"
	}
	if hideDetail {
		return res
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			res.Errors = append(res.Errors, fieldMessage(fe))
		}
		return res
	}
	res.Errors = []string{err.Error()}
	return res
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "len":
		return fe.Field() + " must be " + fe.Param() + " characters"
	case "hexadecimal":
		return fe.Field() + " must be hex encoded"
	default:
		return fe.Field() + " failed " + fe.Tag() + " validation"
	}
}
