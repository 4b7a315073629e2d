// Package main - progressctl, локальная утилита для работы с прогрессом
// участников поверх файла SQLite.
package main

import (
	"fmt"
	"os"

	"github.com/gracegarden/community-hub/internal/interface/cli"
	"github.com/gracegarden/community-hub/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Логи идут в stderr, чтобы не смешиваться с выводом команд.
	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Format = "console"
	opts.Level = logger.LevelWarn
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		opts.Level = logger.ParseLevel(lvl)
	}
	log := logger.New(opts)
	defer func() { _ = log.Sync() }()

	return cli.NewRootCmd(cli.SQLiteFactory(log)).Execute()
}
