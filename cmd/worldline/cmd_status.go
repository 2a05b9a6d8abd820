package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nvandessel/worldline/internal/engine"
	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/spf13/cobra"
)

// statusView is engine.Status with the cursor spelled as "branch.tick".
type statusView struct {
	Now        string              `json:"now"`
	Branch     int                 `json:"branch"`
	Tick       int                 `json:"tick"`
	BranchName string              `json:"branch_name"`
	MainBranch string              `json:"main_branch"`
	HiBranch   int                 `json:"hi_branch"`
	HiTick     int                 `json:"hi_tick"`
	Seed       uint64              `json:"seed"`
	Characters []string            `json:"characters"`
	Branches   []timestream.Branch `json:"branches"`
}

func newStatusView(s engine.Status) statusView {
	return statusView{
		Now:        s.Now.String(),
		Branch:     s.Now.Branch,
		Tick:       s.Now.Tick,
		BranchName: s.BranchName,
		MainBranch: s.MainBranch,
		HiBranch:   s.HiBranch,
		HiTick:     s.HiTick,
		Seed:       s.Seed,
		Characters: s.Characters,
		Branches:   s.Branches,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the time cursor, characters and branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			return withWorkspace(cmd, openOptions{}, func(_ context.Context, ws *workspace) error {
				s, err := ws.Engine.Status()
				if err != nil {
					return err
				}
				v := newStatusView(s)
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), v)
				}
				printStatus(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
}

func printStatus(out io.Writer, v statusView) {
	fmt.Fprintf(out, "Now:     %s (branch %q, tick %d)\n", v.Now, v.BranchName, v.Tick)
	fmt.Fprintf(out, "Main:    %s\n", v.MainBranch)
	fmt.Fprintf(out, "Seed:    %d\n", v.Seed)
	fmt.Fprintf(out, "Highest: branch %d, tick %d\n", v.HiBranch, v.HiTick)

	if len(v.Characters) == 0 {
		fmt.Fprintln(out, "Characters: (none)")
	} else {
		fmt.Fprintf(out, "Characters: %s\n", strings.Join(v.Characters, ", "))
	}

	fmt.Fprintf(out, "\nBranches (%d):\n", len(v.Branches))
	for _, b := range v.Branches {
		marker := " "
		if b.ID == v.Branch {
			marker = "*"
		}
		origin := "root"
		if !b.Root() {
			origin = fmt.Sprintf("from %d at tick %d", b.Parent, b.ForkTick)
		}
		fmt.Fprintf(out, " %s %3d %-16s %s, ends at %d\n", marker, b.ID, b.Name, origin, b.End)
	}
}
