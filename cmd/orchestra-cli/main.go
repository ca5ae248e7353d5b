// Orchestra CLI — инструмент командной строки для работы с задачами,
// исполнителями и конфликтами через HTTP API.
//
// Использование:
//
//	orchestra [--api-url URL] [--json] <command> [subcommand] [flags]
//
// Команды:
//
//	task       Управление задачами
//	worker     Управление исполнителями
//	conflict   Конфликты и их разрешение
//	dashboard  Сводка состояния
//	report     Отчёт с рекомендациями
//	signal     Сигнал внешней системы
//	cycle      Внеочередной цикл оркестрации
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Orchestra/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "orchestra",
		Short:         "Orchestra CLI — task orchestration and conflict resolution",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8083"
	if v := os.Getenv("ORCHESTRA_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewWorkerCmd(clientFn, outputFn),
		cli.NewConflictCmd(clientFn, outputFn),
		cli.NewDashboardCmd(clientFn, outputFn),
		cli.NewReportCmd(clientFn, outputFn),
		cli.NewSignalCmd(clientFn, outputFn),
		cli.NewCycleCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
