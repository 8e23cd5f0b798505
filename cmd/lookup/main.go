// This command is only used for local testing: it runs the identity
// provider queries directly, using the same configuration as the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/chinmina/directory-bridge/internal/cache"
	"github.com/chinmina/directory-bridge/internal/config"
	"github.com/chinmina/directory-bridge/internal/identity"
	"github.com/chinmina/directory-bridge/internal/uaa"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
)

type Config struct {
	UAA   config.UAAConfig
	Cache config.TokenCacheConfig
}

var (
	origin  string
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "lookup",
		Short:         "Query the identity provider with the bridge's client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log client activity to stderr")

	idCmd := &cobra.Command{
		Use:   "id <username>",
		Short: "Resolve a username to a user id",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *identity.Client, args []string) (any, error) {
			id, found, err := c.IDForUsername(ctx, args[0], origin)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, fmt.Errorf("no user named %q", args[0])
			}
			return map[string]string{"id": id}, nil
		}),
	}
	idCmd.Flags().StringVar(&origin, "origin", "", "restrict the match to this origin")

	root.AddCommand(
		idCmd,
		&cobra.Command{
			Use:   "origins <username>",
			Short: "List the origins a username is registered with",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, c *identity.Client, args []string) (any, error) {
				return c.OriginsForUsername(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "usernames <id>...",
			Short: "Map user ids to usernames",
			Args:  cobra.MinimumNArgs(1),
			RunE: run(func(ctx context.Context, c *identity.Client, args []string) (any, error) {
				return c.UsernamesByIDs(ctx, args), nil
			}),
		},
		&cobra.Command{
			Use:   "clients <id>...",
			Short: "Fetch client registrations",
			Args:  cobra.MinimumNArgs(1),
			RunE: run(func(ctx context.Context, c *identity.Client, args []string) (any, error) {
				return c.ClientsByIDs(ctx, args)
			}),
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type query func(ctx context.Context, c *identity.Client, args []string) (any, error)

func run(q query) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		client, err := newClient(ctx)
		if err != nil {
			return err
		}

		result, err := q(ctx, client, args)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
}

func newClient(ctx context.Context) (*identity.Client, error) {
	cfg := Config{}
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	if err := cfg.UAA.Validate(); err != nil {
		return nil, err
	}

	httpClient, err := uaa.NewHTTPClient(cfg.UAA, http.DefaultTransport.(*http.Transport), nil)
	if err != nil {
		return nil, err
	}

	tokens, err := cache.NewFromConfig(cfg.Cache)
	if err != nil {
		return nil, err
	}

	directory, err := uaa.NewDirectory(cfg.UAA.Target, httpClient)
	if err != nil {
		return nil, err
	}

	return identity.New(identity.Credentials{
		ClientID:     cfg.UAA.ClientID,
		ClientSecret: cfg.UAA.ClientSecret,
	}, tokens, uaa.NewIssuer(cfg.UAA.ResolvedTokenURL(), httpClient), directory), nil
}
