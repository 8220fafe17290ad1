package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/teacherforum/teacherforum/internal/client"
	"github.com/teacherforum/teacherforum/internal/model"
)

func clientCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "authenticate",
			Usage: "request a token from a running server",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "email", Required: true},
				&cli.StringFlag{Name: "app", Required: true},
			},
			Action: cmdAuthenticate,
		},
		{
			Name:   "tags",
			Usage:  "list topic tags",
			Action: cmdTags,
		},
		{
			Name:  "discussions",
			Usage: "list discussions, optionally for one tag",
			Flags: []cli.Flag{
				&cli.Int64Flag{Name: "tag", Usage: "topic tag id"},
			},
			Action: cmdDiscussions,
		},
		{
			Name:  "comments",
			Usage: "list comments, optionally for one discussion",
			Flags: []cli.Flag{
				&cli.Int64Flag{Name: "discussion", Usage: "discussion id"},
			},
			Action: cmdComments,
		},
		{
			Name:  "populate",
			Usage: "post sample discussions and comments to a running server",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "comments", Value: 3, Usage: "max comments per discussion"},
			},
			Action: cmdPopulate,
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	api := client.New(c.String("url"))
	api.Token = c.String("token")
	return api
}

func cmdAuthenticate(c *cli.Context) error {
	api := newClient(c)
	if err := api.Authenticate(c.String("email"), c.String("app")); err != nil {
		return err
	}
	fmt.Println(api.Token)
	return nil
}

func cmdTags(c *cli.Context) error {
	tags, err := newClient(c).ListTopicTags()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTAG")
	for _, t := range tags {
		fmt.Fprintf(w, "%d\t%s\n", t.ID, t.TagTitle)
	}
	return w.Flush()
}

func cmdDiscussions(c *cli.Context) error {
	api := newClient(c)
	var (
		discussions []model.Discussion
		err         error
	)
	if tagID := c.Int64("tag"); tagID > 0 {
		discussions, err = api.ListTagDiscussions(tagID)
	} else {
		discussions, err = api.ListDiscussions()
	}
	if err != nil {
		return err
	}
	printDiscussions(os.Stdout, discussions)
	return nil
}

func printDiscussions(out io.Writer, discussions []model.Discussion) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTAG\tTITLE")
	for _, d := range discussions {
		fmt.Fprintf(w, "%d\t%d\t%s\n", d.ID, d.TagID, d.Title)
	}
	_ = w.Flush()
}

func cmdComments(c *cli.Context) error {
	api := newClient(c)
	var (
		comments []model.Comment
		err      error
	)
	if discussionID := c.Int64("discussion"); discussionID > 0 {
		comments, err = api.ListDiscussionComments(discussionID)
	} else {
		comments, err = api.ListComments()
	}
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDISCUSSION\tBODY")
	for _, cm := range comments {
		fmt.Fprintf(w, "%d\t%d\t%s\n", cm.ID, cm.DiscussionID, cm.Body)
	}
	return w.Flush()
}

var sampleDiscussions = []struct {
	title string
	body  string
}{
	{"Ratio tables vs tape diagrams", "Which representation do your students reach for first?"},
	{"Exit tickets for unit rate", "Looking for quick checks that take under five minutes."},
	{"Percent as a rate per 100", "How do you bridge from ratios to percents?"},
	{"Real-world rate problems", "Share contexts that actually engage sixth graders."},
}

var sampleComments = []string{
	"We start with tape diagrams and move to tables once the structure clicks.",
	"Recipes work great for this. Everyone has an opinion on pancakes.",
	"I use a gallery walk so groups can compare strategies.",
	"Double number lines made the difference for my English learners.",
	"Try asking students to write their own word problems.",
}

// cmdPopulate fills a running server with sample content through the API.
func cmdPopulate(c *cli.Context) error {
	api := newClient(c)
	if !api.IsAuthenticated() {
		if err := api.Authenticate("populate@teacherforum.local", "populate"); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}

	tags, err := api.ListTopicTags()
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return fmt.Errorf("server has no topic tags; run seed first")
	}

	maxComments := c.Int("comments")
	posted, commented := 0, 0
	for i, s := range sampleDiscussions {
		tag := tags[i%len(tags)]
		d, err := api.CreateTagDiscussion(model.Discussion{TagID: tag.ID, Title: s.title, Body: s.body})
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ Failed to post discussion: %v\n", err)
			continue
		}
		posted++
		fmt.Printf("✓ Posted discussion #%d under %s: %s\n", d.ID, tag.TagTitle, d.Title)

		if maxComments <= 0 {
			continue
		}
		for j := rand.Intn(maxComments) + 1; j > 0; j-- {
			body := sampleComments[rand.Intn(len(sampleComments))]
			cm, err := api.CreateComment(model.Comment{DiscussionID: d.ID, Body: body})
			if err != nil {
				fmt.Fprintf(os.Stderr, "✗ Failed to comment: %v\n", err)
				continue
			}
			commented++
			fmt.Printf("  ↳ Comment #%d\n", cm.ID)
		}
	}

	fmt.Println("\n=== Populate Complete ===")
	fmt.Printf("Discussions: %d\n", posted)
	fmt.Printf("Comments:    %d\n", commented)
	return nil
}
