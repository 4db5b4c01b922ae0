package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <spider> <url> <login> <password>",
	Short: "Record login credentials for a URL's domain",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 4 {
			return newUsageError("login requires exactly four arguments: <spider> <url> <login> <password>")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		spider, url, login, password := args[0], args[1], args[2], args[3]

		q, ctx, closeFn, err := openQueue(spider)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := q.AddLoginCredentials(ctx, url, login, password); err != nil {
			return fmt.Errorf("add login credentials: %w", err)
		}
		fmt.Printf("Added login url: %s\n", url)
		return nil
	},
}
