package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

func buildPathwayCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pathway",
		Short: "Inspect and exercise the configured pathway registry",
	}
	cmd.AddCommand(buildPathwayListCmd(configPath), buildPathwayTestCmd(configPath))
	return cmd
}

func buildPathwayListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered pathways in registration order",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := buildGateway(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			for _, p := range gw.registry.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s model=%-20s timeout=%s tools=%d\n", p.Name, p.Model, p.Timeout, len(p.Tools))
			}
			return nil
		},
	}
}

func buildPathwayTestCmd(configPath *string) *cobra.Command {
	var text string
	var stream bool

	cmd := &cobra.Command{
		Use:   "test <name>",
		Short: "Execute a pathway once with a test input and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := buildGateway(cmd.Context(), *configPath)
			if err != nil {
				return err
			}

			name := args[0]
			if _, ok := gw.registry.Get(name); !ok {
				return fmt.Errorf("pathway %q is not registered", name)
			}

			req := cortex.Request{PathwayName: name}
			if text != "" {
				req.Messages = []cortex.ChatMessage{{Role: cortex.RoleUser, Content: cortex.StringContent(text)}}
			}

			res, err := gw.executor.Execute(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("execute %q: %w", name, err)
			}

			out, err := json.MarshalIndent(map[string]any{
				"requestId": res.RequestID,
				"text":      res.Text,
				"parsed":    res.Parsed,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "User message text to send through the pathway")
	cmd.Flags().BoolVar(&stream, "stream", false, "Reserved for future incremental output (currently ignored)")
	return cmd
}
