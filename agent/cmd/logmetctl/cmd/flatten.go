package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/logmet/logmet-go/internal/jsoncodec"
	"github.com/logmet/logmet-go/pkg/lumberjack"
)

func flattenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flatten [file.json]",
		Short: "Print the key/value pairs a record is sent as",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(os.Stdin)
			if len(args) == 1 {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				in = file
			}
			var rec map[string]any
			if err := jsoncodec.NewDecoder(in).Decode(&rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			for _, p := range lumberjack.Flatten(rec) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", p.Key, p.Value)
			}
			return nil
		},
	}
}
