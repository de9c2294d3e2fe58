package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/scout/config"
	"github.com/mohammad-safakhou/scout/internal/engine"
	"github.com/mohammad-safakhou/scout/internal/index"
	"github.com/mohammad-safakhou/scout/internal/llm"
	"github.com/mohammad-safakhou/scout/internal/search"
	"github.com/mohammad-safakhou/scout/internal/telemetry"
)

// researchCMD runs one research session in the foreground and prints the
// answer. No server, no postgres: the evidence index stays in memory.
func researchCMD() *cobra.Command {
	var cfgPath string
	var research = &cobra.Command{
		Use:   "research [question]",
		Short: "Run a single research session and print the cited answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			question := strings.Join(args, " ")

			logger := log.New(os.Stderr, "[SCOUT] ", log.LstdFlags)
			tele := telemetry.New(logger)

			provider, err := llm.NewClient(cfg.LLM)
			if err != nil {
				return err
			}
			coordinator, err := search.NewCoordinator(cfg.Search, cfg.Engine.MaxParallel, tele, logger)
			if err != nil {
				return err
			}
			memory, err := index.NewMemoryBackend()
			if err != nil {
				return err
			}
			hybrid, err := index.NewHybrid(memory, nil, "memory", false, tele, logger)
			if err != nil {
				return err
			}

			// One-shot runs never suspend interactively.
			cfg.Engine.RequirePlanningConfirmation = false
			eng := engine.NewEngine(*cfg, provider, coordinator, hybrid, nil, tele, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session, err := eng.Start(ctx, question)
			if err != nil {
				return err
			}
			go func() {
				for ev := range eng.Events() {
					logger.Printf("%s %v", ev.Type, ev.Payload)
				}
			}()

			select {
			case <-ctx.Done():
				_ = eng.Cancel(session.ID())
				<-session.Done()
			case <-session.Done():
			}

			state := session.State()
			switch state.Status {
			case engine.StatusDone:
				fmt.Println(state.Answer)
				return nil
			case engine.StatusCancelled:
				return fmt.Errorf("session cancelled")
			default:
				return fmt.Errorf("session failed: %s", state.FailCause)
			}
		},
	}
	research.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return research
}
