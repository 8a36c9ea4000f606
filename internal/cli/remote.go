package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/lazypower/marksweep/internal/client"
	"github.com/lazypower/marksweep/internal/gc"
	"github.com/spf13/cobra"
)

var (
	remoteURL    string
	remoteLabel  string
	remoteHeap   heapFlags
	remoteScript string
)

// remoteClient returns a client for --url once the server answers its
// health check.
func remoteClient() (*client.Client, error) {
	c := client.New(remoteURL)
	if !c.Healthy() {
		return nil, fmt.Errorf("no marksweep server at %s (start one with marksweep serve)", c.URL())
	}
	return c, nil
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Drive heap sessions on a running server",
}

var remoteNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a session and print its id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := remoteHeap.apply(cmd, gc.Config{})
		if err != nil {
			return err
		}
		c, err := remoteClient()
		if err != nil {
			return err
		}
		info, err := c.NewSession(remoteLabel, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.ID)
		return nil
	},
}

var remoteExecCmd = &cobra.Command{
	Use:   "exec <session-id> [script]",
	Short: "Run a script in a session",
	Long:  "Run a script file, the -e text, or stdin in a session and print its output.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := remoteScript
		switch {
		case len(args) == 2:
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			text = string(data)
		case text == "":
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = string(data)
		}

		c, err := remoteClient()
		if err != nil {
			return err
		}
		res, err := c.Exec(args[0], text)
		if res != nil {
			fmt.Fprint(cmd.OutOrStdout(), res.Output)
		}
		return err
	},
}

var remoteStatsCmd = &cobra.Command{
	Use:   "stats <session-id>",
	Short: "Show a session's heap counters and roots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient()
		if err != nil {
			return err
		}
		st, err := c.Session(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		s := st.Session.Stats
		fmt.Fprintf(w, "live=%d threshold=%d roots=%d/%d cycles=%d allocated=%d freed=%d\n",
			s.Live, s.Threshold, s.Roots, s.RootCapacity, s.Cycles, s.Allocated, s.Freed)
		for i, root := range st.Roots {
			fmt.Fprintf(w, "[%d] %s\n", i, root)
		}
		return nil
	},
}

var remoteDropCmd = &cobra.Command{
	Use:   "drop <session-id>",
	Short: "Tear down a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient()
		if err != nil {
			return err
		}
		cycle, err := c.Drop(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "collected %d objects, %d remaining\n", cycle.Freed, cycle.Remaining)
		return nil
	},
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&remoteURL, "url", "", "server URL (default $MARKSWEEP_URL or http://127.0.0.1:37778)")
	remoteNewCmd.Flags().StringVar(&remoteLabel, "label", "", "session label")
	remoteHeap.register(remoteNewCmd)
	remoteExecCmd.Flags().StringVarP(&remoteScript, "eval", "e", "", "script text to run")

	remoteCmd.AddCommand(remoteNewCmd)
	remoteCmd.AddCommand(remoteExecCmd)
	remoteCmd.AddCommand(remoteStatsCmd)
	remoteCmd.AddCommand(remoteDropCmd)
}
