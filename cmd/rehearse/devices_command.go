package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rehearse/internal/capture/hotplug"
	"rehearse/internal/preflight"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "Camera device utilities",
	}
	devicesCmd.AddCommand(newDevicesCheckCommand(ctx))
	devicesCmd.AddCommand(newDevicesWatchCommand(ctx))
	return devicesCmd
}

func newDevicesCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the configured camera node is usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result := preflight.CheckDeviceAccess("Capture device", cfg.Capture.Device)
			out := cmd.OutOrStdout()
			kind := statusOK
			if !result.Passed {
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, shouldColorize(out)))
			if !result.Passed {
				return fmt.Errorf("capture device unavailable")
			}
			return nil
		},
	}
}

func newDevicesWatchCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Report cameras being plugged in or removed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			device := cfg.Capture.Device
			if all {
				device = ""
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			watcher := hotplug.NewWatcher(ctx.log(), device, func(ev hotplug.Event) {
				kind := statusOK
				message := fmt.Sprintf("%s connected", ev.Device)
				if ev.Action == hotplug.ActionRemove {
					kind = statusWarn
					message = fmt.Sprintf("%s removed", ev.Device)
				} else if ev.Device == cfg.Capture.Device {
					message += "; retry recording now"
				}
				if ev.Model != "" {
					message += " (" + ev.Model + ")"
				}
				fmt.Fprintln(out, renderStatusLine("Camera", kind, message, colorize))
			})

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := watcher.Start(runCtx); err != nil {
				return fmt.Errorf("watch devices: %w", err)
			}
			defer watcher.Stop()

			target := device
			if target == "" {
				target = "all cameras"
			}
			fmt.Fprintf(out, "Watching %s; press Ctrl+C to stop\n", target)
			<-runCtx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Report every video4linux device, not only the configured one")
	return cmd
}
