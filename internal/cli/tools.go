package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var toolsWorkspace string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the registered tools",
	RunE:  runToolsList,
}

func init() {
	toolsCmd.Flags().StringVarP(&toolsWorkspace, "workspace", "w", "", "workspace root for file tools (default current directory)")
	rootCmd.AddCommand(toolsCmd)
}

func runToolsList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	workspaceRoot, err := resolveWorkspaceRoot(toolsWorkspace)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(rt.cfg, workspaceRoot)
	if err != nil {
		return err
	}

	names := registry.Names()
	for _, assistant := range rt.cfg.SubAgents.Assistants {
		names = append(names, assistant.Name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
