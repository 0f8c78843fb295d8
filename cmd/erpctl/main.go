// Command erpctl runs the whole back-office in one process and carries the
// operator tasks: migrations, worker-only mode and bearer tokens.
package main

import (
	"github.com/spf13/cobra"

	"erp/ecommerce/internal/app"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "erpctl",
		Short:         "ERP eCommerce back-office",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newWorkerCommand(),
		newTokenCommand(),
	)
	return root
}

func main() {
	app.Main(newRootCommand())
}
