package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentdeck/permission/fsbox"
	"github.com/randalmurphal/agentdeck/permission/httphook"
)

var schemas = map[string]func() *jsonschema.Schema{
	"fs-request":   fsbox.RequestSchema,
	"fs-response":  fsbox.ResponseSchema,
	"http-request": httphook.RequestSchema,
}

func schemaNames() []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema [" + strings.Join(schemaNames(), "|") + "]",
		Short:     "Print the JSON Schema of a permission transport payload",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: schemaNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any
			if len(args) == 0 {
				all := make(map[string]*jsonschema.Schema, len(schemas))
				for name, fn := range schemas {
					all[name] = fn()
				}
				v = all
			} else {
				fn, ok := schemas[args[0]]
				if !ok {
					return fmt.Errorf("unknown schema %q, want one of %s", args[0], strings.Join(schemaNames(), ", "))
				}
				v = fn()
			}
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
