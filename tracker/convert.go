package tracker

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// converter turns tracker rich-text fields into markdown.
type converter struct {
	md *md.Converter
}

func newConverter() *converter {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return &converter{md: c}
}

// toMarkdown converts an HTML fragment. Plain text passes through.
func (c *converter) toMarkdown(fragment string) (string, error) {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment), nil
	}
	out, err := c.md.ConvertString(stripActiveContent(fragment))
	if err != nil {
		return "", err
	}
	return cleanMarkdown(out), nil
}

// stripActiveContent drops script, style and iframe elements.
func stripActiveContent(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type: html.ElementNode,
		Data: "div",
	})
	if err != nil {
		return fragment
	}

	drop := map[string]bool{"script": true, "style": true, "iframe": true, "noscript": true}
	var sb strings.Builder
	for _, n := range nodes {
		removeElements(n, drop)
		if n.Type == html.ElementNode && drop[n.Data] {
			continue
		}
		html.Render(&sb, n)
	}
	return sb.String()
}

func removeElements(n *html.Node, tags map[string]bool) {
	var toRemove []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && tags[c.Data] {
			toRemove = append(toRemove, c)
			continue
		}
		removeElements(c, tags)
	}
	for _, c := range toRemove {
		n.RemoveChild(c)
	}
}

func cleanMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
