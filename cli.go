package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"voicelink/call"
	"voicelink/history"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "voicelink",
	Long:         `voicelink is a point-to-point voice call over a single TCP connection`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "wait for calls and accept console commands",
	Long: `runs the call engine: it listens for an incoming call on the configured port and reads
commands such as "call" and "hangup" from standard input`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := startEngine(configPath)
		if err != nil {
			return err
		}
		defer e.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := WatchSettings(ctx, configPath, e.settings); err != nil {
			coreLog.Warnf("settings will not be reloaded: %v", err)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = e.controller.Run(ctx)
		}()

		fmt.Println(consoleHelp)
		go func() {
			e.console.serve(os.Stdin, e.controller, e.settings)
			stop()
		}()

		<-done
		coreLog.Info("performing a graceful shutdown...")
		return nil
	},
}

var callCmd = &cobra.Command{
	Use:   "call host:port",
	Short: "call a peer and stay in the call until it ends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := startEngine(configPath)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.settings.SetEndpoint(args[0]); err != nil {
			return err
		}
		if err := e.controller.RequestCall(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = e.controller.Run(runCtx)
		}()

		// the call is over once the controller is back to idle
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
	wait:
		for {
			select {
			case <-ctx.Done():
				break wait
			case <-ticker.C:
				if e.controller.State() == call.StateIdle {
					break wait
				}
			}
		}
		cancel()
		<-done

		if e.console.callCount() == 0 {
			return errors.New("call failed")
		}
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list recent calls",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, settings, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		defer closeLogging()
		if settings.HistoryDB() == "" {
			return errors.New("call history is disabled, set [history] database in the settings")
		}
		store, err := history.Open(settings.HistoryDB(), coreLog)
		if err != nil {
			return err
		}
		defer store.Close()

		calls, err := store.Recent(historyLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tROLE\tREMOTE\tDURATION\tREASON\tSENT\tRECEIVED")
		for _, c := range calls {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
				c.StartedAt.Format(time.DateTime), c.Role, c.Remote,
				c.Duration().Round(time.Second), c.Reason, c.BytesSent, c.BytesReceived)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "settings.ini", "path to the settings file")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of calls to list")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(historyCmd)
}
