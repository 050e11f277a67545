package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wilhg/devici-mcp/pkg/otm"
)

var (
	validateSchema string
	validateJSON   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Validate OTM documents (JSON or YAML)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateSchema, "schema", "", "additionally check against this JSON Schema file")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print issues as JSON")
}

type fileReport struct {
	File   string      `json:"file"`
	Valid  bool        `json:"valid"`
	Issues []otm.Issue `json:"issues"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	var schema *otm.SchemaValidator
	if validateSchema != "" {
		s, err := otm.LoadSchemaFile(validateSchema)
		if err != nil {
			return fmt.Errorf("load schema: %w", err)
		}
		schema = s
	}

	reports := make([]fileReport, 0, len(args))
	invalid := 0
	for _, path := range args {
		tree, issues, err := otm.ReadFile(path)
		if err != nil {
			return err
		}
		if issues == nil && schema != nil {
			issues = otm.ValidateWith(tree, schema)
		}
		if issues == nil {
			issues = []otm.Issue{}
		}
		if len(issues) > 0 {
			invalid++
		}
		reports = append(reports, fileReport{File: path, Valid: len(issues) == 0, Issues: issues})
	}

	out := cmd.OutOrStdout()
	if validateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			if r.Valid {
				fmt.Fprintf(out, "%s: ok\n", r.File)
				continue
			}
			fmt.Fprintf(out, "%s: %d issue(s)\n", r.File, len(r.Issues))
			for _, is := range r.Issues {
				fmt.Fprintf(out, "  %s\n", is)
			}
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d document(s) invalid", invalid, len(args))
	}
	return nil
}
