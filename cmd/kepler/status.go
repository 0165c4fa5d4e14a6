package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/keplerlab/kepler/pkg/artifacts"
	"github.com/keplerlab/kepler/pkg/articles"
	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/finetune"
	"github.com/keplerlab/kepler/pkg/sections"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a status report for the agent's data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(cmd.Context())
		},
	}
}

func printStatus(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	title := color.New(color.Bold, color.FgCyan)
	heading := color.New(color.Bold, color.FgYellow)
	missing := color.New(color.FgRed)

	title.Println("=== AGENT STATUS REPORT ===")
	fmt.Printf("Time: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Printf("Agent: %s\n", cfg.Agent.Name)
	fmt.Printf("Goal: %s\n", cfg.Agent.Goal)

	heading.Println("\n--- MEMORY ---")
	printMemoryStatus(cfg.Memory, missing)

	heading.Println("\n--- ARTIFACTS ---")
	printArtifactStatus(cfg.Artifacts)

	heading.Println("\n--- MODEL ---")
	printModelStatus(cfg, missing)

	heading.Println("\n--- ARTICLES ---")
	printArticleStatus(ctx, cfg.Articles, missing)

	fmt.Println()
	return nil
}

func printMemoryStatus(cfg config.MemoryConfig, missing *color.Color) {
	info, err := os.Stat(cfg.Path)
	if err != nil {
		missing.Println("Memory file not found")
		return
	}
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		missing.Printf("Memory file unreadable: %v\n", err)
		return
	}
	content := string(data)

	fmt.Printf("Path: %s\n", cfg.Path)
	fmt.Printf("Lines: %d\n", countLines(content))
	fmt.Printf("Characters: %d\n", len(content))
	fmt.Printf("File Size: %.2f KB\n", float64(info.Size())/1024)
	fmt.Printf("Last Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))

	majors := sections.All(content, sections.Major)
	if len(majors) == 0 {
		return
	}
	fmt.Println("Sections:")
	for _, sec := range majors {
		fmt.Printf("  %-32s %4d lines\n", sec.Name, countLines(sec.Body))
	}
}

func printArtifactStatus(cfg config.ArtifactsConfig) {
	findings := artifacts.NewRecorder(cfg.Dir, artifacts.Findings)
	connections := artifacts.NewRecorder(cfg.Dir, artifacts.Connections)

	fmt.Printf("Findings: %d\n", findings.Count())
	fmt.Printf("Connections: %d\n", connections.Count())

	discovery := artifacts.NewDiscovery(filepath.Join(cfg.Dir, discoveryFile))
	if _, ok := discovery.Read(); ok {
		color.New(color.Bold, color.FgGreen).Println("Discovery: DECLARED")
	} else {
		fmt.Println("Discovery: none declared")
	}
}

func printModelStatus(cfg *config.Config, missing *color.Color) {
	if cfg.Model.Provider != "" {
		fmt.Printf("Configured: %s (%s)\n", cfg.Model.ModelID, cfg.Model.Provider)
	} else {
		fmt.Printf("Configured: %s\n", cfg.Model.ModelID)
	}

	if !cfg.FineTune.Enabled {
		fmt.Println("Fine-tuning: disabled")
		return
	}

	recorder := finetune.NewExampleRecorder(cfg.FineTune.DataPath, cfg.FineTune.ExamplesToKeep)
	fmt.Printf("Fine-tuning: enabled, every %s\n", cfg.FineTune.Interval.Std())
	fmt.Printf("Examples: %d collected, %d needed per job\n", recorder.Count(), cfg.FineTune.MinExamples)

	state, err := finetune.NewStateStore(cfg.FineTune.StatePath).Load()
	if err != nil {
		missing.Printf("Model state unreadable: %v\n", err)
		return
	}
	if state.ActiveJobID != "" {
		fmt.Printf("Active job: %s\n", state.ActiveJobID)
	}
	if state.ActiveModelID != "" {
		fmt.Printf("Fine-tuned model: %s\n", state.ActiveModelID)
	}
	fmt.Printf("Completed jobs: %d\n", len(state.History))
}

func printArticleStatus(ctx context.Context, cfg config.ArticlesConfig, missing *color.Color) {
	if !cfg.Enabled {
		fmt.Println("Article store disabled")
		return
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		missing.Println("Article database not found")
		return
	}

	store, err := articles.NewStore(cfg.Path)
	if err != nil {
		missing.Printf("Article database unreadable: %v\n", err)
		return
	}
	defer store.Close()

	total, processed, err := store.Counts(ctx)
	if err != nil {
		missing.Printf("Article counts unavailable: %v\n", err)
		return
	}
	fmt.Printf("Total: %d\n", total)
	fmt.Printf("Processed: %d\n", processed)
}

func countLines(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return len(strings.Split(text, "\n"))
}
