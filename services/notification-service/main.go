// Command notification-service serves templates, messages and campaigns and
// delivers the outbound queue.
package main

import "erp/ecommerce/internal/app"

func main() {
	app.Main(app.ServiceCommand("notification-service", "Notifications API and delivery worker", app.Unit{
		Groups: []string{app.GroupNotify},
		Worker: true,
	}))
}
