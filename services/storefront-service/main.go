// Command storefront-service serves the shop profile and the product catalog.
package main

import "erp/ecommerce/internal/app"

func main() {
	app.Main(app.ServiceCommand("storefront-service", "Shop settings and product catalog API", app.Unit{
		Groups: []string{app.GroupShop, app.GroupCatalog},
	}))
}
