package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Problem is an RFC-7807-style error body.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Problem type URIs
const (
	TypeNotFound     = "https://position-guard.dev/problems/not-found"
	TypeBadRequest   = "https://position-guard.dev/problems/bad-request"
	TypeUnauthorized = "https://position-guard.dev/problems/unauthorized"
	TypeConflict     = "https://position-guard.dev/problems/conflict"
	TypeRateLimited  = "https://position-guard.dev/problems/rate-limited"
	TypeInternal     = "https://position-guard.dev/problems/internal-error"
)

// Handle processes the error and returns the appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "resource already exists")
	default:
		InternalError(c, "an unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}
	c.JSON(status, data)
}

func problem(c *gin.Context, p Problem) {
	c.Header("Content-Type", "application/problem+json")
	c.JSON(p.Status, p)
}

// NotFound sends a 404 problem body
func NotFound(c *gin.Context, detail string) {
	problem(c, Problem{
		Type:   TypeNotFound,
		Title:  "Not Found",
		Status: http.StatusNotFound,
		Detail: detail,
	})
}

// BadRequest sends a 400 problem body
func BadRequest(c *gin.Context, detail string) {
	problem(c, Problem{
		Type:   TypeBadRequest,
		Title:  "Bad Request",
		Status: http.StatusBadRequest,
		Detail: detail,
	})
}

// Unauthorized sends a 401 problem body
func Unauthorized(c *gin.Context, detail string) {
	problem(c, Problem{
		Type:   TypeUnauthorized,
		Title:  "Unauthorized",
		Status: http.StatusUnauthorized,
		Detail: detail,
	})
}

// Conflict sends a 409 problem body
func Conflict(c *gin.Context, detail string) {
	problem(c, Problem{
		Type:   TypeConflict,
		Title:  "Conflict",
		Status: http.StatusConflict,
		Detail: detail,
	})
}

// TooManyRequests sends a 429 problem body
func TooManyRequests(c *gin.Context, detail string) {
	problem(c, Problem{
		Type:   TypeRateLimited,
		Title:  "Too Many Requests",
		Status: http.StatusTooManyRequests,
		Detail: detail,
	})
}

// InternalError sends a 500 problem body
func InternalError(c *gin.Context, detail string) {
	problem(c, Problem{
		Type:   TypeInternal,
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
		Detail: detail,
	})
}
