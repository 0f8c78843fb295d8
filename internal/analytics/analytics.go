// Package analytics builds the admin dashboard from the other modules' tables.
package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultWindow is the range reported when the caller gives none.
const DefaultWindow = 30 * 24 * time.Hour

const topProducts = 5

type Amount struct {
	Currency string          `json:"currency" db:"currency"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	Display  string          `json:"display" db:"-"`
}

type TopProduct struct {
	ProductID string          `json:"product_id" db:"product_id"`
	Name      string          `json:"name" db:"name"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Revenue   decimal.Decimal `json:"revenue" db:"revenue"`
}

type Dashboard struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Revenue       []Amount       `json:"revenue"`
	PaidOrders    int            `json:"paid_orders"`
	Orders        int            `json:"orders"`
	OrdersBy      map[string]int `json:"orders_by_status"`
	JobsByStage   map[string]int `json:"production_jobs_by_stage"`
	OverdueJobs   int            `json:"overdue_jobs"`
	TopProducts   []TopProduct   `json:"top_products"`
	Notifications map[string]int `json:"notifications_by_status"`
	NewCustomers  int            `json:"new_customers"`
}

type count struct {
	Key string `db:"k"`
	N   int    `db:"n"`
}

func counts(rows []count) map[string]int {
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Key] = r.N
	}
	return out
}
