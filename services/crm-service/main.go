// Command crm-service serves customers, measurements, notes and loyalty points.
package main

import "erp/ecommerce/internal/app"

func main() {
	app.Main(app.ServiceCommand("crm-service", "Customer records API", app.Unit{
		Groups: []string{app.GroupCustomer},
	}))
}
