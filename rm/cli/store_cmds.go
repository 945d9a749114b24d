package cli

import (
	"context"

	"github.com/spf13/cobra"
)

type sourcesCmd struct{}

func (c *sourcesCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "print the node sources held in the store",
		Args:  cobra.NoArgs,
	}
}

func (c *sourcesCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := cl.config()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	sources, err := store.ListNodeSources(context.Background())
	if err != nil {
		return err
	}
	return cl.printJSON(sources)
}

type nodesCmd struct {
	source string
}

func (c *nodesCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "nodes",
		Short: "print the nodes held in the store",
		Args:  cobra.NoArgs,
	}
	r.Flags().StringVar(&c.source, "source", "", "only print nodes of this node source")
	return r
}

func (c *nodesCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := cl.config()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	nodes, err := store.ListNodes(context.Background())
	if err != nil {
		return err
	}
	if c.source != "" {
		kept := nodes[:0]
		for _, n := range nodes {
			if n.NodeSourceName == c.source {
				kept = append(kept, n)
			}
		}
		nodes = kept
	}
	return cl.printJSON(nodes)
}

type historyCmd struct{}

func (c *historyCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "history [node url]",
		Short: "print the state history of one node, or of every node",
		Args:  cobra.MaximumNArgs(1),
	}
}

func (c *historyCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := cl.config()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	url := ""
	if len(args) == 1 {
		url = args[0]
	}
	history, err := store.ListNodeHistory(context.Background(), url)
	if err != nil {
		return err
	}
	return cl.printJSON(history)
}
