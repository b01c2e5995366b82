package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/zeta/pkg/client"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zeta",
	Short: "Command-line client for the Zeta control plane",
}

func init() {
	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:8080", "control-plane API address")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
}

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	return client.NewClient(addr)
}

var createCmd = &cobra.Command{
	Use:   "create NAME HANDLER_FILE",
	Short: "Upload a handler source file and build a runner image for it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := args[0], args[1]

		source, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read handler file: %w", err)
		}

		fm, err := newClient(cmd).Create(name, source)
		if err != nil {
			return err
		}
		return printJSON(fm)
	},
}

var invokeCmd = &cobra.Command{
	Use:   "invoke NAME [PARAMS_JSON]",
	Short: "Invoke a function, cold- or warm-starting its container as needed",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		params := map[string]any{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
				return fmt.Errorf("parse params JSON: %w", err)
			}
		}

		response, err := newClient(cmd).Invoke(name, params)
		if err != nil {
			return err
		}
		return printJSON(response)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a function, its runner container, and its runner image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered function",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		functions, err := newClient(cmd).List()
		if err != nil {
			return err
		}
		return printJSON(functions)
	},
}

var getCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show one function's metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fm, err := newClient(cmd).Get(args[0])
		if err != nil {
			return err
		}
		return printJSON(fm)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
