package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/driftwood-forum/driftwood/internal/logging"
	"github.com/driftwood-forum/driftwood/internal/models"
	"github.com/driftwood-forum/driftwood/internal/stream"
)

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <topic-id>",
		Short: "Load and print a window of a topic's posts",
		Args:  cobra.ExactArgs(1),
		RunE:  runRead,
	}
	cmd.Flags().Int("near", 0, "Center the window on this post number")
	cmd.Flags().String("usernames", "", "Only posts by these users (comma separated)")
	cmd.Flags().Bool("all", false, "Keep loading until the whole stream is fetched")
	cmd.Flags().Bool("json", false, "JSON output")
	return cmd
}

func runRead(cmd *cobra.Command, args []string) error {
	topicID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid topic id %q", args[0])
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := buildClient(cfg)
	if err != nil {
		return err
	}

	s := stream.NewStream(&models.Topic{ID: topicID}, stream.Options{
		Loader:    client,
		ChunkSize: cfg.Stream.ChunkSize,
		Log:       logging.Component("stream"),
	})

	if usernames, _ := cmd.Flags().GetString("usernames"); usernames != "" {
		s.SetUserFilter(strings.Split(usernames, ","))
	}

	ctx := cmd.Context()
	near, _ := cmd.Flags().GetInt("near")
	if err := s.Refresh(ctx, stream.RefreshOpts{NearPost: near}); err != nil {
		return fmt.Errorf("load topic %d: %w", topicID, err)
	}
	topicLog := logging.WithTopic(topicID)
	topicLog.Debug().Int("loaded", len(s.LoadedPosts())).Msg("stream loaded")

	if all, _ := cmd.Flags().GetBool("all"); all {
		for {
			before := len(s.LoadedPosts())
			if err := s.AppendMore(ctx); err != nil {
				return err
			}
			if len(s.LoadedPosts()) == before {
				break
			}
		}
	}

	posts := s.LoadedPosts()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		for _, post := range posts {
			if err := enc.Encode(post); err != nil {
				return err
			}
		}
		return nil
	}

	topic := s.Topic()
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d posts)\n", topic.Title, topic.PostsCount)
	for _, post := range posts {
		marker := ""
		if post.Deleted {
			marker = " [deleted]"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "#%d @%s%s\n%s\n\n", post.PostNumber, post.Username, marker, postExcerpt(post.Cooked, post.Raw))
	}
	return nil
}

func postExcerpt(cooked, raw string) string {
	text := raw
	if text == "" {
		text = cooked
	}
	text = strings.TrimSpace(text)
	if len(text) > 400 {
		text = text[:400] + "..."
	}
	return text
}
