package models

// Result is one search engine hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Document is one searched-and-scraped page handed to the engines.
type Document struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	MarkdownBody string `json:"markdown_body"`
	HTMLBody     string `json:"html_body"`
}
