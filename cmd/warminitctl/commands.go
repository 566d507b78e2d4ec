package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/warmsync/internal/delta"
	"github.com/signalsfoundry/warmsync/internal/portconfig"
	"github.com/signalsfoundry/warmsync/internal/rpc"
	"github.com/signalsfoundry/warmsync/internal/snapshot"
	"github.com/spf13/cobra"
)

var errFailedPorts = errors.New("some corrective actions failed")

func (a *app) newReplayCmd() *cobra.Command {
	var device, file string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a port document through a full warm-init window",
		Long: `Replay opens a window on the device, upserts every port in the
document, ends the window and prints the corrective plan that was applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := portconfig.Load(file)
			if err != nil {
				return err
			}
			if device != "" {
				doc.Device = device
			}
			if doc.Device == "" {
				return errors.New("no device: set --device or the document's device field")
			}
			if _, err := doc.Records(); err != nil {
				return err
			}

			var reply rpc.EndReply
			err = a.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				reply, err = c.Replay(ctx, doc)
				return err
			})
			if err != nil {
				return err
			}
			if err := a.render(reply, func(w io.Writer) error { return writePlan(w, reply) }); err != nil {
				return err
			}
			if reply.Failed() > 0 {
				return fmt.Errorf("%w: %d of %d ports", errFailedPorts, reply.Failed(), reply.Ports)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device to reconcile; defaults to the document's device")
	cmd.Flags().StringVarP(&file, "file", "f", "", "port document (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) newBeginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "begin DEVICE",
		Short: "Lock a device and open a replay window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var info rpc.WindowInfo
			err := a.withClient(cmd, func(ctx context.Context, c *rpc.Client) (err error) {
				info, err = c.Begin(ctx, args[0])
				return err
			})
			if err != nil {
				return err
			}
			return a.render(info, func(w io.Writer) error {
				fmt.Fprintf(w, "window\t%s\ndevice\t%s\nopened\t%s\nobserved ports\t%d\n",
					info.WindowID, info.Device, info.OpenedAt.Format(time.RFC3339), info.ObservedPorts)
				return nil
			})
		},
	}
	return cmd
}

func (a *app) newUpsertCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "upsert WINDOW",
		Short: "Replay every port of a document into an open window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := portconfig.Load(file)
			if err != nil {
				return err
			}
			err = a.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				for _, spec := range doc.Ports {
					if err := c.Upsert(ctx, args[0], spec); err != nil {
						return fmt.Errorf("upsert port %d: %w", spec.Port, err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "replayed %d ports into %s\n", len(doc.Ports), args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "port document (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) newEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end WINDOW",
		Short: "Close a window, reconcile and print the plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reply rpc.EndReply
			err := a.withClient(cmd, func(ctx context.Context, c *rpc.Client) (err error) {
				reply, err = c.End(ctx, args[0])
				return err
			})
			if err != nil {
				return err
			}
			return a.render(reply, func(w io.Writer) error { return writePlan(w, reply) })
		},
	}
}

func (a *app) newAbortCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "abort WINDOW",
		Short: "Discard an open window without reconciling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				return c.Abort(ctx, args[0], reason)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "aborted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "aborted from warminitctl", "reason recorded in the daemon log")
	return cmd
}

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status DEVICE",
		Short: "Show the reconciliation state of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st rpc.StatusReply
			err := a.withClient(cmd, func(ctx context.Context, c *rpc.Client) (err error) {
				st, err = c.Status(ctx, args[0])
				return err
			})
			if err != nil {
				return err
			}
			return a.render(st, func(w io.Writer) error {
				fmt.Fprintf(w, "device\t%s\nstate\t%s\n", st.Device, st.State)
				if st.WindowID != "" {
					fmt.Fprintf(w, "window\t%s\n", st.WindowID)
				}
				if st.OpenedAt != nil {
					fmt.Fprintf(w, "opened\t%s\n", st.OpenedAt.Format(time.RFC3339))
				}
				fmt.Fprintf(w, "observed ports\t%d\ndesired ports\t%d\n", st.ObservedPorts, st.DesiredPorts)
				return nil
			})
		},
	}
}

func (a *app) newPlanCmd() *cobra.Command {
	var observedPath, desiredPath string
	var changedOnly bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the corrective plan between two port documents offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			observed, err := loadSnapshot(observedPath)
			if err != nil {
				return fmt.Errorf("observed: %w", err)
			}
			desired, err := loadSnapshot(desiredPath)
			if err != nil {
				return fmt.Errorf("desired: %w", err)
			}

			result := delta.Compute(observed, desired)
			summary := result.Summary()
			reply := rpc.EndReply{Ports: summary.Ports, Disruptive: summary.Disruptive()}
			for _, p := range result.Actions() {
				if changedOnly && p.IsNone() {
					continue
				}
				reply.Actions = append(reply.Actions, rpc.PlannedAction{Port: uint32(p.Port), MAC: p.MAC, Serdes: p.Serdes})
			}
			return a.render(reply, func(w io.Writer) error { return writePlan(w, reply) })
		},
	}
	cmd.Flags().StringVar(&observedPath, "observed", "", "port document describing the hardware")
	cmd.Flags().StringVar(&desiredPath, "desired", "", "port document describing the replayed configuration")
	cmd.Flags().BoolVar(&changedOnly, "changed", false, "omit ports that need no action")
	_ = cmd.MarkFlagRequired("observed")
	_ = cmd.MarkFlagRequired("desired")
	return cmd
}

func loadSnapshot(path string) (snapshot.Snapshot, error) {
	doc, err := portconfig.Load(path)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return doc.Snapshot()
}
