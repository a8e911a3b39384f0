package classify

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// exactCategories maps well-known domains to categories.
var exactCategories = map[string]string{
	// Coding and development.
	"github.com": "coding", "gitlab.com": "coding", "bitbucket.org": "coding",
	"codepen.io": "coding", "codesandbox.io": "coding", "replit.com": "coding",
	"stackoverflow.com": "coding", "stackexchange.com": "coding",
	"developer.mozilla.org": "coding", "w3schools.com": "coding",
	"freecodecamp.org": "coding", "leetcode.com": "coding",
	"hackerrank.com": "coding", "codewars.com": "coding",
	"localhost": "coding", "127.0.0.1": "coding",
	"aws.amazon.com": "coding", "console.cloud.google.com": "coding",
	"portal.azure.com": "coding", "heroku.com": "coding", "vercel.com": "coding",
	"netlify.com": "coding", "digitalocean.com": "coding",
	"firebase.google.com": "coding", "supabase.com": "coding",

	// Documentation and learning.
	"docs.microsoft.com": "documentation", "docs.google.com": "documentation",
	"readthedocs.io": "documentation", "confluence.atlassian.com": "documentation",
	"notion.so": "documentation", "gitbook.io": "documentation",
	"medium.com": "learning", "dev.to": "learning", "hashnode.com": "learning",
	"coursera.org": "learning", "udemy.com": "learning",
	"pluralsight.com": "learning", "lynda.com": "learning", "edx.org": "learning",
	"khanacademy.org": "learning", "youtube.com": "learning",
	"wikipedia.org": "learning",

	// Productivity and design tools.
	"gmail.com": "productivity", "outlook.com": "productivity",
	"calendar.google.com": "productivity", "drive.google.com": "productivity",
	"dropbox.com": "productivity", "onedrive.live.com": "productivity",
	"trello.com": "productivity", "asana.com": "productivity",
	"monday.com": "productivity", "figma.com": "productivity",
	"sketch.com": "productivity", "adobe.com": "productivity",
	"canva.com": "productivity", "dribbble.com": "productivity",
	"behance.net": "productivity",

	// Communication.
	"slack.com": "communication", "discord.com": "communication",
	"teams.microsoft.com": "communication", "zoom.us": "communication",
	"meet.google.com": "communication",

	// Social.
	"facebook.com": "social", "instagram.com": "social", "twitter.com": "social",
	"x.com": "social", "linkedin.com": "social", "reddit.com": "social",
	"tiktok.com": "social", "snapchat.com": "social", "pinterest.com": "social",
	"whatsapp.com": "social", "telegram.org": "social",

	// Entertainment.
	"netflix.com": "entertainment", "hulu.com": "entertainment",
	"disneyplus.com": "entertainment", "spotify.com": "entertainment",
	"apple.com": "entertainment", "twitch.tv": "entertainment",
	"gaming.youtube.com": "entertainment", "steam.com": "entertainment",
	"epicgames.com": "entertainment",

	// Shopping.
	"amazon.com": "shopping", "ebay.com": "shopping", "etsy.com": "shopping",
	"shopify.com": "shopping", "walmart.com": "shopping", "target.com": "shopping",
	"bestbuy.com": "shopping", "aliexpress.com": "shopping",

	// News.
	"news.google.com": "news", "bbc.com": "news", "cnn.com": "news",
	"reuters.com": "news", "nytimes.com": "news", "washingtonpost.com": "news",
	"techcrunch.com": "news", "ycombinator.com": "news", "hackernews.org": "news",
}

// patternRule is one regex rule bound to a category.
type patternRule struct {
	category string
	re       *regexp.Regexp
}

// patternRules are tested in order; the first match wins. Category blocks are
// ordered by priority.
var patternRules = compileRules([]struct{ category, pattern string }{
	{"coding", `\.(dev|local)$`},
	{"coding", `^localhost`},
	{"coding", `^127\.0\.0\.1`},
	{"coding", `^192\.168\.`},
	{"coding", `git(hub|lab)`},
	{"coding", `stack(overflow|exchange)`},
	{"coding", `code(pen|sandbox|wars)`},
	{"coding", `repl\.it`},
	{"coding", `jsfiddle`},

	{"documentation", `docs\.`},
	{"documentation", `documentation`},
	{"documentation", `api\.`},
	{"documentation", `reference`},
	{"documentation", `manual`},
	{"documentation", `guide`},
	{"documentation", `wiki`},

	{"social", `facebook`},
	{"social", `instagram`},
	{"social", `twitter`},
	{"social", `linkedin`},
	{"social", `reddit`},
	{"social", `tiktok`},
	{"social", `snapchat`},
	{"social", `whatsapp`},
	{"social", `telegram`},

	{"entertainment", `netflix`},
	{"entertainment", `hulu`},
	{"entertainment", `disney`},
	{"entertainment", `spotify`},
	{"entertainment", `twitch`},
	{"entertainment", `gaming`},
	{"entertainment", `steam`},

	{"shopping", `amazon`},
	{"shopping", `ebay`},
	{"shopping", `shop`},
	{"shopping", `store`},
	{"shopping", `checkout`},

	{"news", `news`},
	{"news", `bbc`},
	{"news", `cnn`},
	{"news", `nytimes`},
	{"news", `reuters`},
	{"news", `techcrunch`},
})

func compileRules(raw []struct{ category, pattern string }) []patternRule {
	rules := make([]patternRule, 0, len(raw))
	for _, r := range raw {
		rules = append(rules, patternRule{category: r.category, re: regexp.MustCompile(r.pattern)})
	}
	return rules
}

// RulesFile is the YAML structure of a user-provided rules file. Exact rules
// extend the built-in table; patterns are tried before the built-in ones.
type RulesFile struct {
	Exact    map[string]string `yaml:"exact"`
	Patterns []struct {
		Category string `yaml:"category"`
		Pattern  string `yaml:"pattern"`
	} `yaml:"patterns"`
}

// LoadRules reads a rules file. A missing file yields an empty RulesFile.
func LoadRules(path string) (*RulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RulesFile{}, nil
		}
		return nil, err
	}
	var rf RulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, err
	}
	return &rf, nil
}
