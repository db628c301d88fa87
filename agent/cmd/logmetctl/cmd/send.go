package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/logmet/logmet-go/internal/jsoncodec"
	"github.com/logmet/logmet-go/pkg/producer"
)

const bufferFullWait = 50 * time.Millisecond

func sendCmd(f *connFlags) *cobra.Command {
	var (
		docType string
		tenant  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [file.ndjson]",
		Short: "Send newline-delimited JSON records",
		Long: `Send reads one JSON object per line from the file, or from stdin when no
file is given, and ships each one as a record. It waits until every record
has been acknowledged or the timeout elapses.

	echo '{"message":"hello","level":"info"}' | logmetctl send -t space-1 --endpoint logs.example.net
`,
		Args: cobra.MaximumNArgs(1),
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

			pcfg, err := f.producerConfig(cmd)
			if err != nil {
				return err
			}
			if tenant == "" {
				tenant = pcfg.TenantID
			}
			prod, err := producer.New(pcfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancelCause(cmd.Context())
			defer cancel(nil)
			go func() {
				if err := prod.Connect(ctx); producer.IsFatal(err) {
					cancel(err)
				}
			}()

			n, sendErr := sendAll(ctx, prod, in, docType, tenant)
			slog.Info("records queued", "count", n)

			prod.Terminate()
			select {
			case <-prod.Done():
			case <-time.After(timeout):
				return fmt.Errorf("timed out after %s waiting for acknowledgments (%d pending)", timeout, pendingOf(prod))
			}
			if cause := context.Cause(ctx); producer.IsFatal(cause) {
				return cause
			}
			if sendErr != nil {
				return sendErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d records\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&docType, "type", "logs", "value of the type field on every record")
	cmd.Flags().StringVar(&tenant, "record-tenant", "", "tenant stamped on records (defaults to the login tenant)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for acknowledgments")
	return cmd
}

// sendAll decodes records from in and sends them, waiting out a full
// buffer instead of dropping.
func sendAll(ctx context.Context, prod *producer.Producer, in io.Reader, docType, tenant string) (int, error) {
	dec := jsoncodec.NewDecoder(in)
	n := 0
	for {
		var rec producer.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("record %d: %w", n+1, err)
		}
		for {
			_, err = prod.Send(rec, docType, tenant)
			if !errors.Is(err, producer.ErrBufferFull) {
				break
			}
			select {
			case <-ctx.Done():
				return n, context.Cause(ctx)
			case <-time.After(bufferFullWait):
			}
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func pendingOf(p *producer.Producer) int {
	st := p.Stats()
	return st.Pending + st.InFlight
}
