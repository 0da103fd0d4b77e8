package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v3"

	"github.com/park285/elo-safeguard/internal/config"
)

var (
	policyFile string
	output     string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "safeguardctl",
	Short: "Operate the Elo safeguard engine",
	Long: `safeguardctl issues and checks match tokens, prints the effective
policy and inspects penalty history, either locally or against a running
safeguard-api.

Environment:
  SAFEGUARD_TOKEN_SECRET  token MAC secret (token commands)
  SAFEGUARD_POLICY_FILE   policy YAML overlay
  DATABASE_URL            penalty store (penalty history)
  SAFEGUARD_SERVER        base URL for remote commands`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyFile, "policy", "", "Policy YAML file (default: $SAFEGUARD_POLICY_FILE)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "json", "Output format (json, yaml)")
}

func loadPolicy() (config.Policy, error) {
	path := policyFile
	if strings.TrimSpace(path) == "" {
		path = os.Getenv("SAFEGUARD_POLICY_FILE")
	}
	return config.LoadPolicyFile(path)
}

func printValue(w io.Writer, v any) error {
	switch strings.ToLower(output) {
	case "yaml":
		raw, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(raw)
		return err
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
