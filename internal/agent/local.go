package agent

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	maxListedFiles = 50
	maxFileBytes   = 5000
	maxFetchBytes  = 1 << 20
	maxPageRunes   = 3000
	maxSectionLen  = 1000
)

// fileAgent lists and reads files inside its workspace directory.
// Writing is refused; the assistant never modifies files on its own.
type fileAgent struct {
	workspace string
}

func (a *fileAgent) Name() string        { return "file" }
func (a *fileAgent) Description() string { return "Workspace file listing and reading" }

func (a *fileAgent) Execute(_ context.Context, input string, _ RunContext) (*Response, error) {
	lower := strings.ToLower(input)
	switch {
	case strings.Contains(lower, "read") || strings.Contains(lower, "open") || strings.Contains(lower, "cat "):
		return a.read(input), nil
	case strings.Contains(lower, "list") || strings.Contains(lower, "show"):
		return a.list(), nil
	case containsAny(lower, "write", "save", "create", "delete"):
		return &Response{
			Content:    "For safety, file changes need the exact path and content spelled out. Tell me both and I will confirm before touching anything.",
			Confidence: 0.5,
			Agent:      "file",
		}, nil
	default:
		return &Response{
			Content:    "I can list or read files in the workspace. Ask me to \"list files\" or \"read <path>\".",
			Confidence: 0.5,
			Agent:      "file",
		}, nil
	}
}

func (a *fileAgent) list() *Response {
	var files []string
	_ = filepath.WalkDir(a.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(a.workspace, path)
		if relErr != nil {
			rel = path
		}
		files = append(files, rel)
		if len(files) >= maxListedFiles {
			return fs.SkipAll
		}
		return nil
	})
	if len(files) == 0 {
		return &Response{Content: "The workspace is empty.", Confidence: 0.9, Agent: "file"}
	}
	return &Response{
		Content:    fmt.Sprintf("Files in the workspace (%d):\n%s", len(files), strings.Join(files, "\n")),
		Confidence: 0.9,
		Agent:      "file",
	}
}

func (a *fileAgent) read(input string) *Response {
	for _, word := range strings.Fields(input) {
		cand := strings.Trim(word, `'"`+"`")
		if !strings.ContainsAny(cand, "/.") {
			continue
		}
		path, ok := a.resolve(cand)
		if !ok {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return &Response{Content: clip(string(data), maxFileBytes), Confidence: 0.9, Agent: "file"}
	}
	return &Response{Content: "Could not find the specified file.", Confidence: 0.3, Agent: "file"}
}

// resolve confines a candidate path to the workspace directory.
func (a *fileAgent) resolve(p string) (string, bool) {
	root, err := filepath.Abs(a.workspace)
	if err != nil {
		return "", false
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	abs, err := filepath.Abs(filepath.Clean(full))
	if err != nil {
		return "", false
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

// shellAgent turns natural-language requests into shell commands and
// hands them to the host-provided runner. Without a runner it still
// extracts and safety-checks the command, it just cannot execute it.
type shellAgent struct{}

var dangerousFragments = []string{
	"rm -rf", "mkfs", "dd if=", "> /dev/sd", ":(){", "format c:", "del /f /s",
}

func (a *shellAgent) Name() string        { return "shell" }
func (a *shellAgent) Description() string { return "Sandboxed shell command execution" }

func (a *shellAgent) Execute(ctx context.Context, input string, rc RunContext) (*Response, error) {
	command := extractCommand(input)
	if command == "" {
		return &Response{
			Content:    "Specify a command to execute, e.g. \"run: ls -la\".",
			Confidence: 0.3,
			Agent:      "shell",
		}, nil
	}
	if !isSafeCommand(command) {
		return &Response{
			Content:    fmt.Sprintf("Command blocked for safety: `%s`", command),
			Confidence: 0.9,
			Agent:      "shell",
		}, nil
	}
	if rc.Runner == nil {
		return &Response{
			Content:    "Command execution is not enabled in this deployment.",
			Confidence: 0.3,
			Agent:      "shell",
		}, nil
	}
	out, err := rc.Runner.Run(ctx, command)
	if err != nil {
		return &Response{
			Content:    fmt.Sprintf("Command failed: %v", err),
			Confidence: 0.5,
			Agent:      "shell",
		}, nil
	}
	return &Response{
		Content:    fmt.Sprintf("```\n$ %s\n%s\n```", command, out),
		Confidence: 0.9,
		Agent:      "shell",
	}, nil
}

func extractCommand(text string) string {
	lower := strings.ToLower(text)
	for _, prefix := range []string{"run:", "execute:", "command:", "$ "} {
		i := strings.Index(lower, prefix)
		if i >= 0 && i+len(prefix) <= len(text) {
			return strings.TrimSpace(text[i+len(prefix):])
		}
	}
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			cmd := strings.TrimSpace(rest[:j])
			if strings.HasPrefix(cmd, "bash") || strings.HasPrefix(cmd, "sh") {
				if _, after, ok := strings.Cut(cmd, "\n"); ok {
					cmd = after
				}
			}
			return strings.TrimSpace(cmd)
		}
	}
	return ""
}

func isSafeCommand(command string) bool {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, frag := range dangerousFragments {
		if strings.Contains(lower, frag) {
			return false
		}
	}
	return true
}

// webAgent fetches URLs mentioned in the request and returns their
// text content. It spends no model tokens.
type webAgent struct {
	client *http.Client
}

var (
	urlPattern    = regexp.MustCompile(`https?://\S+`)
	scriptPattern = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	stylePattern  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

func (a *webAgent) Name() string        { return "web" }
func (a *webAgent) Description() string { return "URL fetching and content extraction" }

func (a *webAgent) Execute(ctx context.Context, input string, _ RunContext) (*Response, error) {
	urls := urlPattern.FindAllString(input, 3)
	if len(urls) == 0 {
		return &Response{
			Content:    "Give me a URL to fetch. For open-ended questions, the research specialist is the better fit.",
			Confidence: 0.3,
			Agent:      "web",
		}, nil
	}
	sections := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(u, ".,;)")
		text, err := a.fetch(ctx, u)
		if err != nil {
			sections = append(sections, fmt.Sprintf("Failed to fetch %s: %v", u, err))
			continue
		}
		sections = append(sections, fmt.Sprintf("Content from %s:\n%s", u, clip(text, maxSectionLen)))
	}
	return &Response{
		Content:    strings.Join(sections, "\n\n"),
		Confidence: 0.8,
		Agent:      "web",
	}, nil
}

func (a *webAgent) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", err
	}
	return clip(stripHTML(string(body)), maxPageRunes), nil
}

func stripHTML(s string) string {
	s = scriptPattern.ReplaceAllString(s, "")
	s = stylePattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// visionAgent is a placeholder until a multimodal provider is wired in.
type visionAgent struct{}

func (a *visionAgent) Name() string        { return "vision" }
func (a *visionAgent) Description() string { return "Image analysis and OCR" }

func (a *visionAgent) Execute(_ context.Context, _ string, rc RunContext) (*Response, error) {
	if rc.ImagePath == "" {
		return &Response{
			Content:    "Send an image or screenshot and I can describe it, read its text, or interpret charts.",
			Confidence: 0.3,
			Agent:      "vision",
		}, nil
	}
	return &Response{
		Content:    "The configured model does not support image analysis.",
		Confidence: 0.0,
		Agent:      "vision",
	}, nil
}
