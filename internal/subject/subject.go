// Package subject normalizes raw host context (URLs, editor documents) into
// trackable subject identifiers.
package subject

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/thebtf/cadence/pkg/models"
)

// ErrUntrackable marks context that must not produce a session: internal
// pages, non-http(s) schemes, excluded file types. Callers filter it silently.
var ErrUntrackable = errors.New("subject: untrackable")

// Info is a normalized subject plus the context captured alongside it.
type Info struct {
	Source   models.Source
	Key      string // domain for browser, "language:project" for editor
	Category string // pre-resolved category for editor subjects (the language id)

	URL   string
	Title string

	Language  string
	Path      string
	Project   string
	GitBranch string
}

// trackingParams are stripped during URL normalization.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "msclkid", "_ga", "mc_eid",
}

// ForURL normalizes a raw page URL into a browser subject.
// Internal pages, extension pages, local files and non-http(s) schemes are
// rejected with ErrUntrackable.
func ForURL(rawURL, title string) (Info, error) {
	if rawURL == "" {
		return Info{}, ErrUntrackable
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Info{}, ErrUntrackable
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Info{}, ErrUntrackable
	}
	domain := ExtractDomain(rawURL)
	if domain == "" {
		return Info{}, ErrUntrackable
	}
	return Info{
		Source: models.SourceBrowser,
		Key:    domain,
		URL:    NormalizeURL(rawURL),
		Title:  title,
	}, nil
}

// ExtractDomain returns the hostname of a URL with any leading www. removed.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// MainDomain strips subdomains, keeping the last two labels.
func MainDomain(domain string) string {
	parts := strings.Split(domain, ".")
	if len(parts) > 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return domain
}

// NormalizeURL removes common tracking query parameters so the same page is
// counted as one subject regardless of campaign links.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IsDevelopmentDomain reports whether a domain points at a local dev host.
func IsDevelopmentDomain(domain string) bool {
	return domain == "localhost" ||
		strings.HasPrefix(domain, "127.0.0.1") ||
		strings.HasPrefix(domain, "192.168.") ||
		strings.HasSuffix(domain, ".local") ||
		strings.HasSuffix(domain, ".dev")
}

// trackableExtensions limits editor tracking to source-like files.
var trackableExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".py": true,
	".java": true, ".cs": true, ".cpp": true, ".c": true, ".h": true,
	".rs": true, ".go": true, ".php": true, ".rb": true, ".swift": true,
	".kt": true, ".scala": true, ".html": true, ".css": true, ".scss": true,
	".less": true, ".vue": true, ".svelte": true, ".md": true, ".json": true,
	".yaml": true, ".yml": true, ".xml": true, ".sql": true, ".sh": true,
	".ps1": true, ".bat": true,
}

// ForFile normalizes an editor document into an editor subject. The language
// id takes priority; the file extension is the fallback. Files outside the
// trackable extension set are rejected with ErrUntrackable.
func ForFile(path, languageID, project, gitBranch string) (Info, error) {
	if path == "" {
		return Info{}, ErrUntrackable
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !trackableExtensions[ext] {
		return Info{}, ErrUntrackable
	}

	lang := normalizeLanguage(languageID)
	if lang == "" {
		lang = languageFromExtension(ext)
	}

	return Info{
		Source:    models.SourceEditor,
		Key:       lang + ":" + project,
		Category:  lang,
		Language:  lang,
		Path:      path,
		Project:   project,
		GitBranch: gitBranch,
	}, nil
}

var languageIDMap = map[string]string{
	"typescript": "typescript", "typescriptreact": "react",
	"javascript": "javascript", "javascriptreact": "react",
	"python": "python", "java": "java", "csharp": "csharp",
	"cpp": "cpp", "c": "c", "rust": "rust", "go": "go",
	"php": "php", "ruby": "ruby", "swift": "swift", "kotlin": "kotlin",
	"scala": "scala", "html": "html", "css": "css", "scss": "scss",
	"less": "less", "sass": "sass", "vue": "vue", "svelte": "svelte",
	"json": "json", "yaml": "yaml", "yml": "yaml", "xml": "xml",
	"markdown": "markdown", "sql": "sql", "shellscript": "shell",
	"powershell": "powershell", "bat": "batch", "dockerfile": "docker",
	"makefile": "makefile",
}

var extensionMap = map[string]string{
	".ts": "typescript", ".tsx": "react", ".js": "javascript", ".jsx": "react",
	".py": "python", ".java": "java", ".cs": "csharp",
	".cpp": "cpp", ".c": "c", ".h": "c",
	".rs": "rust", ".go": "go", ".php": "php", ".rb": "ruby",
	".swift": "swift", ".kt": "kotlin", ".scala": "scala",
	".html": "html", ".css": "css", ".scss": "scss", ".less": "less",
	".vue": "vue", ".svelte": "svelte", ".json": "json",
	".yaml": "yaml", ".yml": "yaml", ".xml": "xml", ".md": "markdown",
	".sql": "sql", ".sh": "shell", ".ps1": "powershell", ".bat": "batch",
}

func normalizeLanguage(languageID string) string {
	if languageID == "" || languageID == "plaintext" {
		return ""
	}
	if lang, ok := languageIDMap[strings.ToLower(languageID)]; ok {
		return lang
	}
	return strings.ToLower(languageID)
}

func languageFromExtension(ext string) string {
	if lang, ok := extensionMap[ext]; ok {
		return lang
	}
	return "other"
}
