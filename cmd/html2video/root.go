package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag, envFlag, levelFlag string

	ctx := newCommandContext(&configFlag, &envFlag, &levelFlag)

	rootCmd := &cobra.Command{
		Use:           "html2video",
		Short:         "Render HTML animations into narrated videos",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Файл конфигурации (.yaml или .toml)")
	rootCmd.PersistentFlags().StringVar(&envFlag, "env-file", ".env", "Файл с переменными окружения")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "Уровень логов: debug, info, warn, error")

	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newBatchCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newDepsCommand(ctx))

	return rootCmd
}
