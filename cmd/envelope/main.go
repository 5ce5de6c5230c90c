// Command envelope inspects raw model output the way the agent runtime
// does, one layer at a time. Every command reads stdin and writes JSON (or
// the normalized text) to stdout.
//
// Usage:
//
//	cat reply.txt | envelope normalize         # print the normalized text
//	cat reply.txt | envelope extract           # print the first JSON block
//	cat reply.txt | envelope parse             # print meta and decoded payload
//	cat reply.txt | envelope validate brief    # check the payload against a contract
//	envelope version
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/envelope"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/normalize"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"github.com/spf13/cobra"
)

// Version information
const (
	Version   = "1.0.0"
	BuildTime = "2025-03-01"
)

// errReported marks a failure already written to stdout as JSON.
var errReported = errors.New("reported")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(stdin, stdout)
	root.SetArgs(args)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(stderr, "envelope: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "envelope",
		Short:         "Inspect raw model output layer by layer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetIn(stdin)

	root.AddCommand(
		&cobra.Command{
			Use:   "normalize",
			Short: "Print stdin after quote and punctuation normalization",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				input, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), normalize.Normalize(string(input)))
				return err
			},
		},
		&cobra.Command{
			Use:   "extract",
			Short: "Print the first balanced JSON block in stdin",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				input, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				block, err := normalize.ExtractFirstJSONBlock(string(input))
				if err != nil {
					return writeError(cmd.OutOrStdout(), err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), block)
				return err
			},
		},
		newParseCmd(),
		newValidateCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"version":    Version,
					"build_time": BuildTime,
				})
			},
		},
	)
	return root
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse",
		Short: "Decode the envelope and its payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			block, err := normalize.ExtractFirstJSONBlock(string(input))
			if err != nil {
				return writeError(cmd.OutOrStdout(), err)
			}
			env, err := envelope.Decode(normalize.Normalize(block))
			if err != nil {
				return writeError(cmd.OutOrStdout(), err)
			}
			payload, err := envelope.ParsePayload(env.Payload)
			if err != nil {
				return writeError(cmd.OutOrStdout(), err)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"meta":    env.Meta,
				"payload": payload,
			})
		},
	}
}

func newValidateCmd() *cobra.Command {
	var payloadOnly bool
	cmd := &cobra.Command{
		Use:   "validate <agent>",
		Short: "Validate the payload against an agent's contract",
		Long: "Validate parses stdin as a model reply and checks the payload against the\n" +
			"named contract. With --payload, stdin is the bare payload object.\n\n" +
			"Contracts: " + strings.Join(schema.DefaultRegistry().Names(), ", "),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, ok := schema.DefaultRegistry().Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown contract %q (known: %s)", args[0], strings.Join(schema.DefaultRegistry().Names(), ", "))
			}
			input, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}

			var payload map[string]any
			if payloadOnly {
				payload, err = envelope.ParsePayload(string(input))
			} else {
				payload, err = envelope.Parse(string(input))
			}
			if err != nil {
				return writeError(cmd.OutOrStdout(), err)
			}

			result := map[string]any{"schema": v.SchemaName(), "valid": true, "errors": []string{}}
			if err := v.Explain(payload); err != nil {
				result["valid"] = false
				result["errors"] = []string{err.Error()}
			}
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result["valid"] == false {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&payloadOnly, "payload", false, "stdin is the bare payload object")
	return cmd
}

// writeJSON writes v as one line of JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// writeError reports err as {"error": true, "code": <kind>, "message": ...}
// and returns errReported.
func writeError(w io.Writer, err error) error {
	code := string(failures.KindOf(err))
	if code == "" {
		code = "error"
	}
	if werr := writeJSON(w, map[string]any{
		"error":   true,
		"code":    code,
		"message": err.Error(),
	}); werr != nil {
		return werr
	}
	return errReported
}
