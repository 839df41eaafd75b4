package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivlev/html2video/internal/engine"
	"github.com/ivlev/html2video/internal/manifest"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "batch manifest.yaml...",
		Short: "Render several manifests concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.cfg
			jobs := make([]engine.Job, 0, len(args))
			for _, path := range args {
				m, err := manifest.Read(path)
				if err != nil {
					return err
				}
				job, err := engine.NewJob(m, cfg)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				jobs = append(jobs, job)
			}

			p, err := ctx.pipeline(cmd.Context())
			if err != nil {
				return err
			}
			p.Report = nil

			fmt.Printf("[*] Заданий: %d | Параллельно: %d\n", len(jobs), parallel)
			results, err := engine.RunBatch(cmd.Context(), p, jobs, parallel, func(ev engine.Event) {
				if ev.Message == "done" {
					fmt.Fprintf(os.Stderr, "[>] %s готово\n", ev.JobID[:8])
				}
			})
			for i, res := range results {
				switch res.Status {
				case engine.StatusSucceeded:
					fmt.Printf("[+] %s -> %s\n", args[i], res.Output)
				case engine.StatusCancelled:
					fmt.Printf("[!] %s отменено\n", args[i])
				default:
					fmt.Printf("[-] %s: %s\n", args[i], res.Error)
				}
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "j", 2, "Сколько заданий рендерить одновременно")
	return cmd
}
