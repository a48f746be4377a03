package handler

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pverhoef/dbvault/internal/api/util"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

// parseListFilter reads the shared list grammar from the query string:
// query=field|op|value,..., order=field|direction,..., page, per_page.
func parseListFilter(c *gin.Context, allowedFields []string) (util.ListFilter, error) {
	filter := util.ListFilter{Page: 1, PerPage: defaultPerPage}

	filters, err := util.ParseQueryString(c.Query("query"))
	if err != nil {
		return filter, err
	}
	if err := util.ValidateFilterFields(filters, allowedFields); err != nil {
		return filter, err
	}
	filter.Filters = filters

	orders, err := util.ParseOrderString(c.Query("order"))
	if err != nil {
		return filter, err
	}
	if err := util.ValidateOrderFields(orders, allowedFields); err != nil {
		return filter, err
	}
	filter.Order = orders

	if page := c.Query("page"); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			return filter, fmt.Errorf("invalid page: %s", page)
		}
		filter.Page = n
	}
	if perPage := c.Query("per_page"); perPage != "" {
		n, err := strconv.Atoi(perPage)
		if err != nil || n < 1 || n > maxPerPage {
			return filter, fmt.Errorf("invalid per_page: %s (max %d)", perPage, maxPerPage)
		}
		filter.PerPage = n
	}

	return filter, nil
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %s", c.Param("id"))
	}
	return id, nil
}
