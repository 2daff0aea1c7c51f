// File: cmd/eval.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/loupe/internal/browser/htmlparse"
	"github.com/xkilldash9x/loupe/internal/observability"
	"github.com/xkilldash9x/loupe/internal/script"
)

func newEvalCmd() *cobra.Command {
	var (
		vm       string
		htmlPath string
		code     string
	)
	evalCmd := &cobra.Command{
		Use:   "eval [file|-]",
		Short: "Runs a script and prints its completion value",
		Long: `Runs a script and prints its completion value.

The script comes from -e, a file, or stdin for "-". Console output goes to
stdout ahead of the value. With --html the script sees that document.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("vm") {
				cfg.SetScriptVM(vm)
			}

			src := code
			switch {
			case len(args) == 1 && code != "":
				return fmt.Errorf("pass either -e or a file, not both")
			case len(args) == 1:
				data, err := readSource(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				src = string(data)
			case code == "":
				return fmt.Errorf("nothing to run: pass -e or a file")
			}

			logger := observability.GetLogger()
			out := cmd.OutOrStdout()
			opts := []script.Option{script.WithConsole(out)}
			if htmlPath != "" {
				data, err := readSource(cmd.InOrStdin(), htmlPath)
				if err != nil {
					return err
				}
				doc, err := htmlparse.Parse(logger, data)
				if err != nil {
					return fmt.Errorf("failed to parse %s: %w", htmlPath, err)
				}
				opts = append(opts, script.WithDocument(doc))
			}

			engine, err := script.NewEngine(cfg.Script(), logger, opts...)
			if err != nil {
				return err
			}
			v, err := engine.Run(src)
			if err != nil {
				return err
			}
			if err := engine.RunLoop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(out, engine.Display(v))
			return nil
		},
	}
	evalCmd.Flags().StringVarP(&code, "eval", "e", "", "script source to run")
	evalCmd.Flags().StringVar(&vm, "vm", "", "script VM: stack or register (overrides config)")
	evalCmd.Flags().StringVar(&htmlPath, "html", "", "HTML file exposed to the script as document")
	return evalCmd
}
