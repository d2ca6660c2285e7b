package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/usncompetitions/notifier/internal/template"
)

var templateDataJSON string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Template tools",
}

var templateValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check template syntax and list referenced variables",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateValidate,
}

var templatePreviewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Render a template with sample data",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatePreview,
}

var templateVariablesCmd = &cobra.Command{
	Use:   "variables",
	Short: "List the variables available to templates",
	Run: func(cmd *cobra.Command, args []string) {
		for _, v := range template.ListVariables() {
			fmt.Printf("  {{%s}}\t%s\n", v.Name, v.Description)
		}
	},
}

func init() {
	templatePreviewCmd.Flags().StringVar(&templateDataJSON, "data", "{}", "JSON object overriding sample values")

	templateCmd.AddCommand(templateValidateCmd, templatePreviewCmd, templateVariablesCmd)
	rootCmd.AddCommand(templateCmd)
}

func runTemplateValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	text := string(data)

	if ok, msg := template.NewRenderer().Validate(text); !ok {
		return fmt.Errorf("invalid template: %s", msg)
	}

	fmt.Println("Template is valid")
	vars := template.ExtractVariables(text)
	if len(vars) == 0 {
		return nil
	}

	var unknown []string
	fmt.Println("Variables:")
	for _, name := range vars {
		fmt.Printf("  %s\n", name)
		if _, ok := template.DefaultVariables[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		fmt.Printf("\nWarning: not provided for recipients: %s\n", strings.Join(unknown, ", "))
	}
	return nil
}

func runTemplatePreview(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}

	var overrides map[string]any
	if err := json.Unmarshal([]byte(templateDataJSON), &overrides); err != nil {
		return fmt.Errorf("invalid JSON data: %w", err)
	}

	sample := template.SampleContext(time.Now())
	for k, v := range overrides {
		sample[k] = v
	}

	rendered, _ := template.NewRenderer().RenderPreview(string(data), sample)
	fmt.Println(rendered)
	return nil
}
