package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultOffset = 0
	DefaultLimit  = 100
	MaxLimit      = 100
	MinLimit      = 1
)

// Params holds validated pagination parameters
type Params struct {
	Offset int
	Limit  int
}

// Parse extracts and validates offset/limit from query parameters
func Parse(c *gin.Context) Params {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", strconv.Itoa(DefaultOffset)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))

	if offset < 0 {
		offset = DefaultOffset
	}
	if limit < MinLimit {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Params{
		Offset: offset,
		Limit:  limit,
	}
}
