package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"smartvalue/internal/config"
	"smartvalue/internal/stream"
	"smartvalue/internal/util"
	"smartvalue/internal/watchlist"
	"smartvalue/pkg/smartvalue"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	serverURL := "http://localhost:8080"
	if u := os.Getenv("SMARTVALUE_URL"); u != "" {
		serverURL = u
	}
	addr := "localhost:9090"
	if a := os.Getenv("SMARTVALUE_STREAM_ADDR"); a != "" {
		addr = a
	}

	logPath := fmt.Sprintf("/tmp/smartvalue-tui-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := util.NewLoggerTo(logFile, "info", "text")

	client := smartvalue.NewClient(serverURL)
	token, err := smartvalue.LoadToken()
	if err != nil {
		logger.Warn("loading token", "error", err)
	}
	client.SetToken(token)

	replica := watchlist.NewReplica()
	sc := stream.NewClient(addr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(
		initialModel(client, replica, cancel, logger),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	go func() {
		err := sc.Sync(ctx, token, func(e watchlist.Event) {
			if replica.Apply(e) {
				p.Send(replicaChangedMsg{})
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("sync error", "error", err)
			p.Send(syncErrMsg{err})
		}
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
