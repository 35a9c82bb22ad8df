// Command generate-schema writes the JSON schema of the grainweb
// configuration file, for editor completion on config.yaml.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/grainweb/pkg/config"
	"github.com/spf13/cobra"
)

const schemaID = "https://github.com/marmos91/grainweb/config.schema.json"

var (
	outputFile string
	compact    bool
)

var rootCmd = &cobra.Command{
	Use:   "generate-schema [output]",
	Short: "Write the JSON schema of the grainweb configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			outputFile = args[0]
		}

		data, err := marshalSchema(configSchema(), compact)
		if err != nil {
			return err
		}

		if outputFile == "-" {
			_, err := cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(outputFile, data, 0644); err != nil {
			return fmt.Errorf("write schema: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", outputFile)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "config.schema.json", `Output file ("-" for stdout)`)
	rootCmd.Flags().BoolVar(&compact, "compact", false, "Write the schema without indentation")
}

// configSchema reflects config.Config using the keys viper decodes, so
// the schema validates the same YAML that Load reads.
func configSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "mapstructure",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = jsonschema.ID(schemaID)
	schema.Title = "grainweb Configuration"
	schema.Description = "Configuration of the grainweb grain server (logging, storage backend, sweeper, metrics and the RPC adapter)"
	return schema
}

func marshalSchema(schema *jsonschema.Schema, compact bool) ([]byte, error) {
	if compact {
		return json.Marshal(schema)
	}
	return json.MarshalIndent(schema, "", "  ")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
