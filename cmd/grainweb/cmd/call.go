package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/marmos91/grainweb/internal/protocol/websession"
	"github.com/marmos91/grainweb/pkg/app"
	"github.com/marmos91/grainweb/pkg/client"
	"github.com/spf13/cobra"
)

var (
	callNetwork string
	callAddress string
	callWrite   bool
	callUser    string
	callTimeout time.Duration

	putFile string
	putData string
	putMime string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Call a running grain as a host would",
	Long: `Connects to a grain served on a unix or tcp listener, opens a web
session for a made-up user and issues one request. Useful for poking at a
grain during development without a host.`,
}

var callInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the grain's permissions and roles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
			info, err := c.View().GetViewInfo(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Permissions:")
			for i, p := range info.Permissions {
				fmt.Fprintf(out, "  [%d] %s\n", i, p.Name)
			}
			fmt.Fprintln(out, "Roles:")
			for _, r := range info.Roles {
				fmt.Fprintf(out, "  %s (%s) %v\n", r.Title.DefaultText, r.VerbPhrase.DefaultText, r.Permissions)
			}
			return nil
		})
	},
}

var callGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "GET a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *client.Session) (websession.Response, error) {
			return s.Get(ctx, args[0])
		})
	},
}

var callPutCmd = &cobra.Command{
	Use:   "put <path>",
	Short: "PUT a file under var/",
	Long: `Uploads --data, the contents of --file, or stdin when neither is set.
Requires --write for the request to be allowed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := putBody(cmd.InOrStdin())
		if err != nil {
			return err
		}

		mime := putMime
		if mime == "" {
			mime = app.ContentType(args[0])
		}

		return withSession(cmd, func(ctx context.Context, s *client.Session) (websession.Response, error) {
			return s.Put(ctx, args[0], websession.PutContent{MimeType: mime, Content: body})
		})
	},
}

var callDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "DELETE a file under var/",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *client.Session) (websession.Response, error) {
			return s.Delete(ctx, args[0])
		})
	},
}

func init() {
	callCmd.PersistentFlags().StringVar(&callNetwork, "network", "unix", "Network of the grain listener (unix or tcp)")
	callCmd.PersistentFlags().StringVar(&callAddress, "address", "", "Socket path or host:port of the grain")
	callCmd.PersistentFlags().BoolVar(&callWrite, "write", false, "Open the session with the write permission")
	callCmd.PersistentFlags().StringVar(&callUser, "user", "cli", "Display name of the session user")
	callCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Timeout for the whole call")
	_ = callCmd.MarkPersistentFlagRequired("address")

	callPutCmd.Flags().StringVar(&putFile, "file", "", "Upload the contents of this file")
	callPutCmd.Flags().StringVar(&putData, "data", "", "Upload this string")
	callPutCmd.Flags().StringVar(&putMime, "mime", "", "MIME type (default: guessed from the path)")

	callCmd.AddCommand(callInfoCmd)
	callCmd.AddCommand(callGetCmd)
	callCmd.AddCommand(callPutCmd)
	callCmd.AddCommand(callDeleteCmd)
}

func putBody(stdin io.Reader) ([]byte, error) {
	switch {
	case putFile != "" && putData != "":
		return nil, fmt.Errorf("use only one of --file and --data")
	case putFile != "":
		return os.ReadFile(putFile)
	case putData != "":
		return []byte(putData), nil
	default:
		return io.ReadAll(stdin)
	}
}

func withClient(parent context.Context, fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(parent, callTimeout)
	defer cancel()

	c, err := client.Dial(ctx, callNetwork, callAddress)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	return fn(ctx, c)
}

func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *client.Session) (websession.Response, error)) error {
	return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
		s, err := c.NewSession(ctx, client.SessionOptions{
			DisplayName: callUser,
			CanWrite:    callWrite,
			UserAgent:   "grainweb-cli",
		})
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		defer s.Release()

		resp, err := fn(ctx, s)
		if err != nil {
			return err
		}
		return printResponse(cmd.OutOrStdout(), resp)
	})
}

// printResponse writes a one-line summary of resp and, for content, the
// body.
func printResponse(out io.Writer, resp websession.Response) error {
	switch r := resp.(type) {
	case *websession.Content:
		fmt.Fprintf(out, "%d %s (%s, %d bytes)\n", r.StatusCode.HTTPStatus(), r.StatusCode, r.MimeType, len(r.Body))
		if _, err := out.Write(r.Body); err != nil {
			return err
		}
		if len(r.Body) > 0 && !strings.HasSuffix(string(r.Body), "\n") {
			fmt.Fprintln(out)
		}
	case *websession.NoContent:
		fmt.Fprintln(out, "204 noContent")
	case *websession.ClientError:
		fmt.Fprintf(out, "%d %s\n", r.StatusCode.HTTPStatus(), r.StatusCode)
		if r.DescriptionHTML != "" {
			fmt.Fprintln(out, r.DescriptionHTML)
		}
	case *websession.Redirect:
		status := 302
		if r.IsPermanent {
			status = 301
		}
		fmt.Fprintf(out, "%d redirect -> %s\n", status, r.Location)
	default:
		return fmt.Errorf("unexpected response %T", resp)
	}
	return nil
}
