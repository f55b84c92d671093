package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/meshworks/relay/pkg/store"
	"github.com/meshworks/relay/pkg/types"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage alarm rules",
}

// RuleFile is the document format accepted by rules apply
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

type RuleSpec struct {
	ID          string            `yaml:"id,omitempty"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Priority    string            `yaml:"priority,omitempty"`
	Category    string            `yaml:"category,omitempty"`
	Enabled     *bool             `yaml:"enabled,omitempty"`
	Conditions  []types.Condition `yaml:"conditions"`
	Actions     []types.Action    `yaml:"actions"`
}

var rulesApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply rules from a YAML file",
	Long: `Apply alarm rules from a YAML file. Rules with an id update the
existing rule; rules without one are created.

Example file:

  rules:
    - name: motion alert
      conditions:
        - {type: eventType, operator: equals, value: motion}
      actions:
        - {type: notify, order: 1, config: {channels: [log-main], message: "motion at {{source}}"}}`,
	RunE: runRulesApply,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			rules, err := st.ListRules()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tCONDITIONS\tACTIONS")
			for _, r := range rules {
				fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%d\n",
					r.ID, r.Name, r.Enabled, len(r.Conditions), len(r.Actions))
			}
			return w.Flush()
		})
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <rule-id>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			if err := st.DeleteRule(args[0]); err != nil {
				return err
			}
			fmt.Printf("Rule %s deleted\n", args[0])
			return nil
		})
	},
}

// applyCmd is the top-level shorthand for rules apply
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply rules from a YAML file",
	RunE:  runRulesApply,
}

func init() {
	for _, cmd := range []*cobra.Command{rulesApplyCmd, applyCmd} {
		cmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
		_ = cmd.MarkFlagRequired("file")
	}

	rulesCmd.AddCommand(rulesApplyCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesDeleteCmd)
}

func runRulesApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}
	if len(file.Rules) == 0 {
		return fmt.Errorf("no rules in %s", filename)
	}

	return withStore(cmd, func(st store.Store) error {
		for _, spec := range file.Rules {
			if spec.ID != "" {
				enabled := spec.Enabled
				updates := types.RuleUpdates{
					Name:       optional(spec.Name),
					Conditions: &spec.Conditions,
					Actions:    &spec.Actions,
					Enabled:    enabled,
				}
				if spec.Description != "" {
					updates.Description = &spec.Description
				}
				if _, err := st.UpdateRule(spec.ID, updates); err != nil {
					return err
				}
				fmt.Printf("Rule %s updated\n", spec.ID)
				continue
			}

			rule := &types.Rule{
				Name:        spec.Name,
				Description: spec.Description,
				Priority:    types.Priority(spec.Priority),
				Category:    types.Category(spec.Category),
				Enabled:     spec.Enabled == nil || *spec.Enabled,
				Conditions:  spec.Conditions,
				Actions:     spec.Actions,
			}
			if err := st.CreateRule(rule); err != nil {
				return err
			}
			fmt.Printf("Rule %q created: %s\n", rule.Name, rule.ID)
		}
		return nil
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// withStore opens the rule store for one offline command. Serve holds
// the database lock while running; these commands are for a stopped hub
// or a separate data dir.
func withStore(cmd *cobra.Command, fn func(store.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}
