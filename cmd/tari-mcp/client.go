package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluffypony/universe/pkg/client"
	"github.com/fluffypony/universe/pkg/protocol"
)

type clientFlags struct {
	addr    string
	timeout time.Duration
}

func newClientCmd(g *globalFlags) *cobra.Command {
	f := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Talk to a running server",
		Long: `Talk to a running server over its socket. Without --addr the address is
taken from the settings: the first allowed host and the configured port.`,
	}
	cmd.PersistentFlags().StringVarP(&f.addr, "addr", "a", "", "server address host:port")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", 10*time.Second, "time allowed for the whole exchange")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ping",
			Short: "Check that the server answers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return f.session(cmd, g, func(ctx context.Context, c *client.Client) (interface{}, error) {
					return c.Ping(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List the resources, tools and prompts the server reports",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return f.session(cmd, g, func(ctx context.Context, c *client.Client) (interface{}, error) {
					var out catalogOutput
					var err error
					if out.Resources, err = c.ListResources(ctx); err != nil {
						return nil, err
					}
					if out.Tools, err = c.ListTools(ctx); err != nil {
						return nil, err
					}
					if out.Prompts, err = c.ListPrompts(ctx); err != nil {
						return nil, err
					}
					return out, nil
				})
			},
		},
		&cobra.Command{
			Use:   "read <name|uri>",
			Short: "Read a resource",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				uri := args[0]
				if !strings.Contains(uri, "://") {
					uri = protocol.ResourceURI(uri)
				}
				return f.session(cmd, g, func(ctx context.Context, c *client.Client) (interface{}, error) {
					res, err := c.ReadResource(ctx, uri)
					if err != nil {
						return nil, err
					}
					if !g.jsonOutput && len(res.Contents) == 1 {
						return textOutput(res.Contents[0].Text), nil
					}
					return res, nil
				})
			},
		},
		&cobra.Command{
			Use:   "call <tool> [key=value...]",
			Short: "Call a tool",
			Long: `Call a tool. Arguments are key=value pairs; values are converted to the
types the tool's input schema declares.`,
			Args: cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return f.session(cmd, g, func(ctx context.Context, c *client.Client) (interface{}, error) {
					tools, err := c.ListTools(ctx)
					if err != nil {
						return nil, err
					}
					var tool *protocol.Tool
					for i := range tools {
						if tools[i].Name == args[0] {
							tool = &tools[i]
							break
						}
					}
					if tool == nil {
						return nil, fmt.Errorf("server has no tool %q", args[0])
					}
					toolArgs, err := client.ParseArguments(tool.InputSchema, args[1:])
					if err != nil {
						return nil, err
					}
					res, err := c.CallTool(ctx, tool.Name, toolArgs)
					if err != nil {
						return nil, err
					}
					if !g.jsonOutput && len(res.Content) == 1 {
						return textOutput(res.Content[0].Text), nil
					}
					return res, nil
				})
			},
		},
		&cobra.Command{
			Use:   "prompt <name> [key=value...]",
			Short: "Render a prompt",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				promptArgs := make(map[string]string, len(args)-1)
				for _, pair := range args[1:] {
					k, v, ok := strings.Cut(pair, "=")
					if !ok || k == "" {
						return fmt.Errorf("argument %q is not key=value", pair)
					}
					promptArgs[k] = v
				}
				return f.session(cmd, g, func(ctx context.Context, c *client.Client) (interface{}, error) {
					res, err := c.GetPrompt(ctx, args[0], promptArgs)
					if err != nil {
						return nil, err
					}
					if g.jsonOutput {
						return res, nil
					}
					var b strings.Builder
					for _, m := range res.Messages {
						fmt.Fprintf(&b, "[%s]\n%s\n", m.Role, m.Content.Text)
					}
					return textOutput(strings.TrimRight(b.String(), "\n")), nil
				})
			},
		},
	)
	return cmd
}

// textOutput is printed verbatim instead of as JSON
type textOutput string

// session dials, performs the handshake, runs fn and prints its result
func (f *clientFlags) session(cmd *cobra.Command, g *globalFlags, fn func(context.Context, *client.Client) (interface{}, error)) error {
	addr, err := f.address(g)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	c, err := client.Dial(ctx, addr, client.WithName("tari-mcp"), client.WithVersion(Version))
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Initialize(ctx); err != nil {
		return err
	}
	out, err := fn(ctx, c)
	if err != nil {
		return err
	}

	if text, ok := out.(textOutput); ok {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(text))
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func (f *clientFlags) address(g *globalFlags) (string, error) {
	if f.addr != "" {
		return f.addr, nil
	}
	s, err := g.settings()
	if err != nil {
		return "", err
	}
	if s.MCP.Port == 0 {
		return "", fmt.Errorf("settings use an ephemeral port; pass --addr")
	}
	host := "127.0.0.1"
	for _, h := range s.MCP.AllowedHostAddresses {
		if ip := net.ParseIP(h); ip != nil && !ip.IsUnspecified() {
			host = h
			break
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(s.MCP.Port)), nil
}
