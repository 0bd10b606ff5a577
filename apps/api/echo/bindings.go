package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/roofest/core"
)

const orderingParam = "ordering"

// sortable fields per resource: {API field: column}
var (
	userOrderFields = map[string]string{
		"name":       "name",
		"username":   "username",
		"email":      "email",
		"role":       "role",
		"created_at": "created_at",
		"last_login": "last_login",
	}
	clientOrderFields = map[string]string{
		"name":        "name",
		"email":       "email",
		"loyaltyTier": "loyalty_tier",
		"createdAt":   "created_at",
	}
	projectOrderFields = map[string]string{
		"name":           "name",
		"estimateStatus": "estimate_status",
		"createdAt":      "created_at",
		"updatedAt":      "updated_at",
	}
)

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads `?ordering=name,-createdAt`. Unknown fields are ignored.
func (ord *Ordering) Bind(ctx echo.Context, fields map[string]string) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		col, ok := fields[field]
		if !ok {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: col, Ascending: !descending})
	}
}
