package main

import (
	"errors"
	"fmt"
	"os"

	"promptory/internal/client"
	"promptory/internal/realtime"
	"promptory/internal/services"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiToken  string
)

// newClient builds a client from flags, falling back to API_URL and API_TOKEN.
func newClient() (*client.Client, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	base, token := cfg.APIURL, cfg.APIToken
	if serverURL != "" {
		base = serverURL
	}
	if apiToken != "" {
		token = apiToken
	}
	return client.New(base, client.WithToken(token)), nil
}

func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default: API_URL)")
	cmd.PersistentFlags().StringVar(&apiToken, "token", "", "bearer token (default: API_TOKEN)")
}

var loginCmd = &cobra.Command{
	Use:   "login <email> <password>",
	Short: "Sign in and print a bearer token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		s, err := c.Login(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return output(s)
	},
}

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Prompt commands against a running server",
}

var promptListIn services.PromptListInput

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListPrompts(cmd.Context(), promptListIn)
		if err != nil {
			return err
		}
		return output(list)
	},
}

var promptsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.Prompt(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("prompt %s not found", args[0])
		}
		return output(p)
	},
}

var promptsLikeCmd = &cobra.Command{
	Use:   "like <id>",
	Short: "Toggle your like on a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		status, err := c.PromptLikeStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		like := client.NewPromptLike(c, args[0], status.IsLiked, status.LikeCount,
			client.NotifierFunc(func(msg string) { fmt.Fprintln(os.Stderr, msg) }))
		if err := like.Toggle(cmd.Context()); err != nil {
			return err
		}
		liked, count := like.State()
		return output(services.LikeStatus{IsLiked: liked, LikeCount: count})
	},
}

var promptsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete prompts as an admin",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return reportBatch(c.AdminDeletePrompts(cmd.Context(), args), args)
	},
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Collection commands against a running server",
}

var collectionListIn services.CollectionListInput

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List public collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListCollections(cmd.Context(), collectionListIn)
		if err != nil {
			return err
		}
		return output(list)
	},
}

var collectionsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one collection with its prompts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		col, err := c.Collection(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if col == nil {
			return fmt.Errorf("collection %s not found", args[0])
		}
		return output(col)
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete collections as an admin",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return reportBatch(c.AdminDeleteCollections(cmd.Context(), args), args)
	},
}

func reportBatch(err error, ids []string) error {
	var pf *client.PartialFailure
	switch {
	case err == nil:
		return output(services.BatchResult{Succeeded: ids, Failed: []services.BatchFailure{}})
	case errors.As(err, &pf):
		if oerr := output(services.BatchResult{Succeeded: pf.Succeeded, Failed: pf.Failed}); oerr != nil {
			return oerr
		}
		return err
	default:
		return err
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print change notices from a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return c.Watch(cmd.Context(), func(n realtime.Notice) {
			if outputFormat == "json" {
				outputTo(os.Stdout, "json", n)
				return
			}
			line := fmt.Sprintf("%s %s %s", n.Type, n.Table, n.RecordID)
			if n.Toast != "" {
				line += "  " + n.Toast
			}
			fmt.Println(line)
		})
	},
}

func init() {
	promptsListCmd.Flags().StringVar(&promptListIn.Category, "category", "", "category name")
	promptsListCmd.Flags().StringVarP(&promptListIn.Q, "query", "q", "", "search title and content")
	promptsListCmd.Flags().StringVar(&promptListIn.UserID, "user", "", "author user id")
	promptsListCmd.Flags().IntVar(&promptListIn.Page.Page, "page", 1, "page number")
	promptsListCmd.Flags().IntVar(&promptListIn.Page.PageSize, "page-size", services.DefaultPageSize, "page size")

	collectionsListCmd.Flags().StringVar(&collectionListIn.Category, "category", "", "category name")
	collectionsListCmd.Flags().StringVarP(&collectionListIn.Q, "query", "q", "", "search names")
	collectionsListCmd.Flags().StringVar(&collectionListIn.UserID, "user", "", "owner user id")
	collectionsListCmd.Flags().IntVar(&collectionListIn.Page.Page, "page", 1, "page number")
	collectionsListCmd.Flags().IntVar(&collectionListIn.Page.PageSize, "page-size", services.DefaultPageSize, "page size")

	promptsCmd.AddCommand(promptsListCmd, promptsGetCmd, promptsLikeCmd, promptsDeleteCmd)
	collectionsCmd.AddCommand(collectionsListCmd, collectionsGetCmd, collectionsDeleteCmd)

	for _, cmd := range []*cobra.Command{loginCmd, promptsCmd, collectionsCmd, watchCmd} {
		addClientFlags(cmd)
		rootCmd.AddCommand(cmd)
	}
}
