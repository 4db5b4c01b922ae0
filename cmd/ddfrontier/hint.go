package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var hintCmd = &cobra.Command{
	Use:   "hint <spider> (pin|unpin) <url>",
	Short: "Add or remove a pinned seed URL",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 3 {
			return newUsageError("hint requires exactly three arguments: <spider> (pin|unpin) <url>")
		}
		if args[1] != "pin" && args[1] != "unpin" {
			return newUsageError("hint action must be 'pin' or 'unpin', got %q", args[1])
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		spider, action, url := args[0], args[1], args[2]

		q, ctx, closeFn, err := openQueue(spider)
		if err != nil {
			return err
		}
		defer closeFn()

		if action == "pin" {
			if err := q.AddHintURL(ctx, url); err != nil {
				return fmt.Errorf("add hint url: %w", err)
			}
			fmt.Printf("Added hint url: %s\n", url)
			return nil
		}

		if err := q.RemoveHintURL(ctx, url); err != nil {
			return fmt.Errorf("remove hint url: %w", err)
		}
		fmt.Printf("Removed hint url: %s\n", url)
		return nil
	},
}
