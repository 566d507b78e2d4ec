package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/warmsync/internal/rpc"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"
)

const defaultAddr = "localhost:50061"

// dialFunc opens a connection to the daemon at addr.
type dialFunc func(addr string) (*grpc.ClientConn, error)

func dialTarget(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(rpc.RequestIDUnaryClientInterceptor()),
	)
}

type globalOptions struct {
	addr    string
	timeout time.Duration
	output  string
}

type app struct {
	out  io.Writer
	dial dialFunc
	opts globalOptions
}

func newRootCmd(out io.Writer, dial dialFunc) *cobra.Command {
	a := &app{out: out, dial: dial}

	addr := os.Getenv("WARMINITCTL_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	root := &cobra.Command{
		Use:           "warminitctl",
		Short:         "Drive warm-init port reconciliation windows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch a.opts.output {
			case "text", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unknown output format %q", a.opts.output)
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.opts.addr, "addr", addr, "warminitd gRPC address (env WARMINITCTL_ADDR)")
	root.PersistentFlags().DurationVar(&a.opts.timeout, "timeout", 30*time.Second, "deadline for each command")
	root.PersistentFlags().StringVarP(&a.opts.output, "output", "o", "text", "output format: text, json or yaml")

	root.AddCommand(
		a.newReplayCmd(),
		a.newBeginCmd(),
		a.newUpsertCmd(),
		a.newEndCmd(),
		a.newAbortCmd(),
		a.newStatusCmd(),
		a.newPlanCmd(),
	)
	return root
}

// withClient dials the daemon and runs fn under the command deadline.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *rpc.Client) error) error {
	conn, err := a.dial(a.opts.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.opts.addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), a.opts.timeout)
	defer cancel()
	return fn(ctx, rpc.NewClient(conn))
}

// render writes v in the selected format, falling back to text for the
// human-readable form.
func (a *app) render(v any, text func(w io.Writer) error) error {
	switch a.opts.output {
	case "json":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		if err := text(tw); err != nil {
			return err
		}
		return tw.Flush()
	}
}

func writePlan(w io.Writer, reply rpc.EndReply) error {
	if reply.WindowID != "" {
		fmt.Fprintf(w, "window\t%s\n", reply.WindowID)
	}
	if reply.Device != "" {
		fmt.Fprintf(w, "device\t%s\n", reply.Device)
	}
	fmt.Fprintf(w, "ports\t%d\ndisruptive\t%d\n", reply.Ports, reply.Disruptive)
	fmt.Fprintln(w, "PORT\tMAC\tSERDES")
	for _, p := range reply.Actions {
		fmt.Fprintf(w, "%d\t%s\t%s\n", p.Port, p.MAC, p.Serdes)
	}
	if len(reply.Failures) > 0 {
		fmt.Fprintln(w, "FAILED PORT\tMAC\tSERDES\tERROR")
		for _, f := range reply.Failures {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", f.Port, f.MAC, f.Serdes, strings.TrimSpace(f.Error))
		}
	}
	return nil
}
