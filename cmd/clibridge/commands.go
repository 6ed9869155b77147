package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xunmengshe2x/Claudable/internal/adapter"
	"github.com/xunmengshe2x/Claudable/internal/config"
	"github.com/xunmengshe2x/Claudable/internal/models"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether the adapter can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg.Verbose)
			defer func() { _ = logger.Sync() }()

			env, err := buildEnv(cfg, logger)
			if err != nil {
				return err
			}
			defer env.close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			all, _ := cmd.Flags().GetBool("all")
			results := map[string]adapter.Availability{}
			if all {
				results, err = env.registry.CheckAll(ctx)
				if err != nil {
					return err
				}
			} else {
				selected, ok := env.registry.Get(cfg.Adapter)
				if !ok {
					return fmt.Errorf("unknown adapter %q", cfg.Adapter)
				}
				res, err := selected.CheckAvailability(ctx)
				if err != nil {
					return err
				}
				results[cfg.Adapter] = res
			}

			if cfg.JSON {
				payload, _ := json.MarshalIndent(results, "", "  ")
				fmt.Fprintln(os.Stdout, string(payload))
			} else {
				names := make([]string, 0, len(results))
				for name := range results {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					printAvailability(name, results[name])
				}
			}
			for _, res := range results {
				if !res.Available {
					return errSilent
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Check every registered adapter")
	cmd.Flags().Bool("json", false, "Output JSON")
	return cmd
}

func printAvailability(name string, res adapter.Availability) {
	if !res.Available {
		fmt.Printf("%s: unavailable (configured: %v) - %s\n", name, res.Configured, res.Error)
		return
	}
	version := res.Version
	if version == "" {
		version = "unknown version"
	}
	fmt.Printf("%s: available, %s\n", name, version)
	if res.Command != "" {
		fmt.Printf("  command: %s\n", res.Command)
	}
	if res.DefaultModel != "" {
		fmt.Printf("  default model: %s\n", res.DefaultModel)
	}
}

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models from the OpenAI-compatible endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			baseURL := cfg.Qwen.BaseURL
			if baseURL == "" {
				baseURL = models.DefaultBaseURL
			}
			catalog, err := models.NewCatalog(cfg.Qwen.APIKey, baseURL, cfg.HTTPReferer, cfg.Title)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			ids, err := catalog.List(ctx)
			if err != nil {
				return err
			}
			if filter, _ := cmd.Flags().GetString("filter"); filter != "" {
				ids = models.Filter(ids, filter)
			}
			if cfg.JSON {
				payload, _ := json.MarshalIndent(ids, "", "  ")
				fmt.Fprintln(os.Stdout, string(payload))
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
	cmd.Flags().String("filter", "qwen", "Only list models containing this text")
	cmd.Flags().Bool("json", false, "Output JSON")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect the stored tool sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			store, closer, err := openStore(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer()
			}
			entries, err := store.List(cmd.Context(), cfg.Adapter)
			if err != nil {
				return err
			}
			if cfg.JSON {
				payload, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Fprintln(os.Stdout, string(payload))
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tREMOTE\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.SessionID, e.RemoteID, e.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	list.Flags().Bool("json", false, "Output JSON")

	forget := &cobra.Command{
		Use:   "forget [session-id]",
		Short: "Drop the stored tool session so the next prompt starts fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			store, closer, err := openStore(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer()
			}
			return store.Delete(cmd.Context(), cfg.Adapter, args[0])
		},
	}

	cmd.AddCommand(list, forget)
	return cmd
}
