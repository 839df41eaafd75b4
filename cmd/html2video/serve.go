package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/html2video/internal/engine"
	"github.com/ivlev/html2video/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var parallel int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.cfg
			if bind != "" {
				cfg.Server.Bind = bind
			}
			if cmd.Flags().Changed("parallel") {
				cfg.Server.MaxParallel = parallel
			}

			p, err := ctx.pipeline(cmd.Context())
			if err != nil {
				return err
			}
			p.Report = nil

			m := engine.NewManager(p, cfg.Server.MaxParallel)
			m.SetRetention(time.Duration(cfg.Server.JobRetentionMinutes) * time.Minute)
			return server.New(m, cfg, ctx.log()).Run(cmd.Context(), cfg.Server.Bind)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Адрес для прослушивания (по умолчанию из конфигурации)")
	cmd.Flags().IntVarP(&parallel, "parallel", "j", 0, "Сколько заданий рендерить одновременно")
	return cmd
}
