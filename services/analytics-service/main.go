// Command analytics-service serves the tenant dashboard.
package main

import "erp/ecommerce/internal/app"

func main() {
	app.Main(app.ServiceCommand("analytics-service", "Dashboard API", app.Unit{
		Groups: []string{app.GroupAnalytics},
	}))
}
