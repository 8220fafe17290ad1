package store

import "github.com/teacherforum/teacherforum/internal/model"

// DefaultFixtures returns the data set the API test suite expects after
// every reseed. A fresh copy is returned on each call.
func DefaultFixtures() model.Fixtures {
	return model.Fixtures{
		TopicTags: []model.TopicTag{
			{ID: 1, TagTitle: "6.RP.A.1"},
			{ID: 2, TagTitle: "6.RP.A.2"},
		},
		Discussions: []model.Discussion{
			{
				ID:    1,
				TagID: 1,
				Title: "Introducing ratio language",
				Body:  "How do you get students to describe a ratio relationship between two quantities in their own words?",
			},
			{
				ID:    2,
				TagID: 2,
				Title: "Unit rate warm-ups",
				Body:  "Looking for quick warm-up problems that connect a ratio a:b to the unit rate a/b.",
			},
		},
		Comments: []model.Comment{
			{ID: 1, DiscussionID: 1, Body: "Tape diagrams worked well for my class."},
			{ID: 2, DiscussionID: 1, Body: "I start with recipes, everyone has an opinion about pancakes."},
			{ID: 3, DiscussionID: 2, Body: "Grocery store unit prices make a great warm-up."},
		},
	}
}
