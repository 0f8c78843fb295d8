// Command production-service serves the tailoring jobs and their board.
package main

import "erp/ecommerce/internal/app"

func main() {
	app.Main(app.ServiceCommand("production-service", "Tailoring production API", app.Unit{
		Groups: []string{app.GroupProduction},
	}))
}
