package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"promptloop/internal/extract"
	"promptloop/internal/feedback"
	"promptloop/internal/schema"
)

type extractFlags struct {
	marker     string
	tags       []string
	finalKey   string
	scratchKey string
	input      string
}

func (f *extractFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.marker, "marker", "", "section marker that introduces the final answer")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "fence tags treated as structured data")
	cmd.Flags().StringVar(&f.finalKey, "final-key", "", "wrapper key unwrapped one level")
	cmd.Flags().StringVar(&f.scratchKey, "scratch-key", "", "scratch key dropped from the answer")
	cmd.Flags().StringVarP(&f.input, "file", "f", "", "read model output from file instead of stdin")
}

func (f *extractFlags) extractor() *extract.Extractor {
	return extract.New(extract.Config{
		SectionMarker: f.marker,
		DataTags:      f.tags,
		FinalKey:      f.finalKey,
		ScratchKey:    f.scratchKey,
	})
}

func (f *extractFlags) read(cmd *cobra.Command) (string, error) {
	if f.input != "" {
		b, err := os.ReadFile(f.input)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func extractCmd(a *app) *cobra.Command {
	var flags extractFlags
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a JSON object or array from model output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := flags.read(cmd)
			if err != nil {
				return err
			}
			res := flags.extractor().Extract(raw)
			a.log.Debug().Strs("path", res.Path).Bool("found", res.Found).Msg("extraction finished")
			if err := writeJSON(cmd.OutOrStdout(), map[string]any{
				"found": res.Found,
				"value": res.Value,
				"path":  res.Path,
			}); err != nil {
				return err
			}
			if !res.Found {
				return errReported
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func validateCmd(a *app) *cobra.Command {
	var (
		flags      extractFlags
		schemaPath string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Extract model output and validate it against a schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := schema.Load(schemaPath)
			if err != nil {
				return err
			}
			raw, err := flags.read(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			res := flags.extractor().Extract(raw)
			if !res.Found {
				fmt.Fprintf(out, "parse_error: %s\n", lastStep(res.Path))
				return errReported
			}
			rec, err := schema.Validate(res.Value, s)
			if err != nil {
				var verr *schema.ValidationError
				if errors.As(err, &verr) {
					fmt.Fprintln(out, feedback.FormatValidation(verr, schema.PassingFields(s, verr)))
					return errReported
				}
				return err
			}
			a.log.Debug().Int("fields", len(rec)).Msg("record validated")
			return writeJSON(out, rec)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "schema YAML file")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func lastStep(path []string) string {
	if len(path) == 0 {
		return "no output"
	}
	return path[len(path)-1]
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
