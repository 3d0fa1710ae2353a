package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"promptloop/internal/extract"
	"promptloop/internal/feedback"
	"promptloop/internal/sandbox"
	"promptloop/internal/task"
)

func testCmd(a *app) *cobra.Command {
	var (
		taskPath string
		codePath string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run Go source against a task's test cases",
		Long: `Run Go source against the test cases of a code task and print the
feedback a refinement loop would send back to the model. The source may be
a plain .go file or model output containing a fenced go block.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := task.Load(taskPath)
			if err != nil {
				return err
			}
			if f.Kind != task.KindCode {
				return fmt.Errorf("task %q is not a code task", f.Name)
			}
			src, err := os.ReadFile(codePath)
			if err != nil {
				return err
			}
			code := string(src)
			if block, ok := extract.CodeBlock(code, "go"); ok {
				code = block
			}

			opts := a.cfg.SandboxOptions()
			opts.Logger = a.log
			t := f.Refine()
			rep := sandbox.New(opts).Run(cmd.Context(), code, t.Cases, t.FunctionName)

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, rep); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, feedback.Format(rep))
			}
			if !rep.Success() {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskPath, "task", "t", "", "task YAML file")
	cmd.Flags().StringVarP(&codePath, "code", "c", "", "Go source file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}
