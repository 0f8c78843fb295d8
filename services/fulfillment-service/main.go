// Command fulfillment-service serves shipments.
package main

import "erp/ecommerce/internal/app"

func main() {
	app.Main(app.ServiceCommand("fulfillment-service", "Shipments API", app.Unit{
		Groups: []string{app.GroupFulfillment},
	}))
}
