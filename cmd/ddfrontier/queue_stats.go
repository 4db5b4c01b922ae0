package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var queueStatsOutput string

var queueStatsCmd = &cobra.Command{
	Use:   "queue-stats <spider>",
	Short: "Print a short summary of a spider's queue, optionally dumping full stats to a file",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return newUsageError("queue-stats requires exactly one argument: <spider>")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		q, ctx, closeFn, err := openQueue(args[0])
		if err != nil {
			return err
		}
		defer closeFn()

		stats, err := q.Stats(ctx)
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("\nQueue size: %d, domains: %d\n\n", stats.Len, stats.NDomains)

		sort.Slice(stats.Queues, func(i, j int) bool {
			return stats.Queues[i].Cardinality > stats.Queues[j].Cardinality
		})

		const top = 10
		printed := int64(0)
		for i, qi := range stats.Queues {
			if i >= top {
				break
			}
			printed += qi.Cardinality
			fmt.Printf("%-50s\t%d\n", q.QueueKeyDomain(qi.Key), qi.Cardinality)
		}
		var total int64
		for _, qi := range stats.Queues {
			total += qi.Cardinality
		}
		if other := total - printed; other > 0 {
			fmt.Println("...")
			fmt.Printf("%-50s\t%d\n\n", "other:", other)
		}

		if queueStatsOutput != "" {
			data, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal stats: %w", err)
			}
			if queueStatsOutput == "-" {
				fmt.Println(string(data))
			} else {
				if err := os.WriteFile(queueStatsOutput, data, 0o644); err != nil {
					return fmt.Errorf("write stats: %w", err)
				}
				fmt.Printf("Stats dumped to %s\n", queueStatsOutput)
			}
		}
		return nil
	},
}

func init() {
	queueStatsCmd.Flags().StringVarP(&queueStatsOutput, "output", "o", "", "dump stats into a JSON file (use - for stdout)")
}
