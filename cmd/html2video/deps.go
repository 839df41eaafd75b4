package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivlev/html2video/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external programs (ffmpeg, ffprobe, Chrome)",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := deps.CheckBinaries(deps.Requirements(ctx.cfg))
			deps.WriteTable(os.Stdout, statuses)
			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("не хватает программ: %d", len(missing))
			}
			return nil
		},
	}
}
