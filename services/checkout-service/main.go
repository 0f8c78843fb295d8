// Command checkout-service serves orders, payments with the gateway webhook, and invoices.
package main

import "erp/ecommerce/internal/app"

func main() {
	app.Main(app.ServiceCommand("checkout-service", "Orders, payments and invoices API", app.Unit{
		Groups: []string{app.GroupOrder, app.GroupPayment, app.GroupInvoice},
	}))
}
