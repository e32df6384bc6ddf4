package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/urlpolicy"
)

// Pool is the subset of *browser.Manager the tools use.
type Pool interface {
	CreateSession(ctx context.Context) (string, error)
	CloseSession(ctx context.Context, id string) error
	CreatePage(ctx context.Context, sessionID string) (string, error)
	Navigate(ctx context.Context, sessionID, pageID, url string) error
	Screenshot(ctx context.Context, sessionID, pageID string) ([]byte, error)
	Content(ctx context.Context, sessionID, pageID string) (string, error)
	ClosePage(ctx context.Context, sessionID, pageID string) error
	ActiveSessionIDs() []string
}

// BrowserTools returns the eight browser tools backed by pool.
func BrowserTools(pool Pool, policy *urlpolicy.Policy, logger *logging.Logger) []Tool {
	if logger == nil {
		logger = logging.Nop()
	}
	base := toolBase{pool: pool, log: logger.Component("mcp")}
	return []Tool{
		&CreateBrowserTool{base},
		&CloseBrowserTool{base},
		&ListBrowsersTool{base},
		&CreatePageTool{base},
		&NavigateTool{toolBase: base, policy: policy},
		&GetPageContentTool{base},
		&ClosePageTool{base},
		&TakeScreenshotTool{base},
	}
}

type toolBase struct {
	pool Pool
	log  *logging.Logger
}

type pageArgs struct {
	BrowserID string `json:"browserId"`
	PageID    string `json:"pageId"`
}

func (a pageArgs) require() error {
	if a.BrowserID == "" || a.PageID == "" {
		return NewError(CodeInvalidParams, "Browser ID and Page ID are required")
	}
	return nil
}

func pageSchema() map[string]any {
	return BaseToolSchema(map[string]any{
		"browserId": stringProperty("ID of the browser instance"),
		"pageId":    stringProperty("ID of the page"),
	}, []string{"browserId", "pageId"})
}

type successResult struct {
	Success   bool   `json:"success"`
	BrowserID string `json:"browserId,omitempty"`
	PageID    string `json:"pageId,omitempty"`
	URL       string `json:"url,omitempty"`
}

// CreateBrowserTool launches a new browser session.
type CreateBrowserTool struct{ toolBase }

// Name returns the tool name.
func (t *CreateBrowserTool) Name() string { return "create_browser" }

// Description returns the tool description.
func (t *CreateBrowserTool) Description() string { return "Create a new browser instance" }

// Schema returns the tool's JSON schema.
func (t *CreateBrowserTool) Schema() map[string]any {
	return BaseToolSchema(map[string]any{}, nil)
}

// Execute creates the session.
func (t *CreateBrowserTool) Execute(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
	id, err := t.pool.CreateSession(ctx)
	if err != nil {
		t.log.Errorf("failed to create browser instance: %v", err)
		return ErrorResult("Failed to create browser instance: %v", err), nil
	}
	t.log.Infof("created browser instance %s", id)
	return JSONResult(successResult{Success: true, BrowserID: id})
}

// CloseBrowserTool closes a browser session.
type CloseBrowserTool struct{ toolBase }

// Name returns the tool name.
func (t *CloseBrowserTool) Name() string { return "close_browser" }

// Description returns the tool description.
func (t *CloseBrowserTool) Description() string { return "Close a browser instance" }

// Schema returns the tool's JSON schema.
func (t *CloseBrowserTool) Schema() map[string]any {
	return BaseToolSchema(map[string]any{
		"browserId": stringProperty("ID of the browser instance to close"),
	}, []string{"browserId"})
}

// Execute closes the session.
func (t *CloseBrowserTool) Execute(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
	var args pageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.BrowserID == "" {
		return nil, NewError(CodeInvalidParams, "Browser ID is required")
	}

	if err := t.pool.CloseSession(ctx, args.BrowserID); err != nil {
		return ErrorResult("Failed to close browser instance: %v", err), nil
	}
	t.log.Infof("closed browser instance %s", args.BrowserID)
	return JSONResult(successResult{Success: true})
}

// ListBrowsersTool lists active sessions.
type ListBrowsersTool struct{ toolBase }

// Name returns the tool name.
func (t *ListBrowsersTool) Name() string { return "list_browsers" }

// Description returns the tool description.
func (t *ListBrowsersTool) Description() string { return "List all active browser instances" }

// Schema returns the tool's JSON schema.
func (t *ListBrowsersTool) Schema() map[string]any {
	return BaseToolSchema(map[string]any{}, nil)
}

// Execute lists the sessions.
func (t *ListBrowsersTool) Execute(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
	return JSONResult(browserList(t.pool))
}

// CreatePageTool opens a page in a session.
type CreatePageTool struct{ toolBase }

// Name returns the tool name.
func (t *CreatePageTool) Name() string { return "create_page" }

// Description returns the tool description.
func (t *CreatePageTool) Description() string { return "Create a new page in a browser instance" }

// Schema returns the tool's JSON schema.
func (t *CreatePageTool) Schema() map[string]any {
	return BaseToolSchema(map[string]any{
		"browserId": stringProperty("ID of the browser instance"),
	}, []string{"browserId"})
}

// Execute opens the page.
func (t *CreatePageTool) Execute(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
	var args pageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.BrowserID == "" {
		return nil, NewError(CodeInvalidParams, "Browser ID is required")
	}

	pageID, err := t.pool.CreatePage(ctx, args.BrowserID)
	if err != nil {
		return ErrorResult("Failed to create page in browser %s: %v", args.BrowserID, err), nil
	}
	return JSONResult(successResult{Success: true, BrowserID: args.BrowserID, PageID: pageID})
}

// NavigateTool loads a URL in a page.
type NavigateTool struct {
	toolBase
	policy *urlpolicy.Policy
}

// Name returns the tool name.
func (t *NavigateTool) Name() string { return "navigate_to" }

// Description returns the tool description.
func (t *NavigateTool) Description() string { return "Navigate to a URL in a page" }

// Schema returns the tool's JSON schema.
func (t *NavigateTool) Schema() map[string]any {
	return BaseToolSchema(map[string]any{
		"browserId": stringProperty("ID of the browser instance"),
		"pageId":    stringProperty("ID of the page"),
		"url":       stringProperty("URL to navigate to"),
	}, []string{"browserId", "pageId", "url"})
}

// Execute navigates the page.
func (t *NavigateTool) Execute(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
	var args struct {
		pageArgs
		URL string `json:"url"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.BrowserID == "" || args.PageID == "" || args.URL == "" {
		return nil, NewError(CodeInvalidParams, "Browser ID, Page ID, and URL are required")
	}
	if err := t.policy.Check(args.URL); err != nil {
		return nil, NewError(CodeInvalidParams, "%v", err)
	}

	if err := t.pool.Navigate(ctx, args.BrowserID, args.PageID, args.URL); err != nil {
		return ErrorResult("Failed to navigate to %s: %v", args.URL, err), nil
	}
	return JSONResult(successResult{Success: true, URL: args.URL})
}

// GetPageContentTool returns a page's HTML.
type GetPageContentTool struct{ toolBase }

// Name returns the tool name.
func (t *GetPageContentTool) Name() string { return "get_page_content" }

// Description returns the tool description.
func (t *GetPageContentTool) Description() string { return "Get the HTML content of a page" }

// Schema returns the tool's JSON schema.
func (t *GetPageContentTool) Schema() map[string]any { return pageSchema() }

// Execute reads the content.
func (t *GetPageContentTool) Execute(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
	var args pageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.require(); err != nil {
		return nil, err
	}

	content, err := t.pool.Content(ctx, args.BrowserID, args.PageID)
	if err != nil {
		return ErrorResult("Failed to get content from page %s: %v", args.PageID, err), nil
	}
	return &ToolResult{Content: []Content{TextContent(content)}}, nil
}

// ClosePageTool closes a page.
type ClosePageTool struct{ toolBase }

// Name returns the tool name.
func (t *ClosePageTool) Name() string { return "close_page" }

// Description returns the tool description.
func (t *ClosePageTool) Description() string { return "Close a page" }

// Schema returns the tool's JSON schema.
func (t *ClosePageTool) Schema() map[string]any { return pageSchema() }

// Execute closes the page.
func (t *ClosePageTool) Execute(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
	var args pageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.require(); err != nil {
		return nil, err
	}

	if err := t.pool.ClosePage(ctx, args.BrowserID, args.PageID); err != nil {
		return ErrorResult("Failed to close page %s: %v", args.PageID, err), nil
	}
	return JSONResult(successResult{Success: true})
}

// TakeScreenshotTool captures a page as PNG.
type TakeScreenshotTool struct{ toolBase }

// Name returns the tool name.
func (t *TakeScreenshotTool) Name() string { return "take_screenshot" }

// Description returns the tool description.
func (t *TakeScreenshotTool) Description() string { return "Take a screenshot of a page" }

// Schema returns the tool's JSON schema.
func (t *TakeScreenshotTool) Schema() map[string]any { return pageSchema() }

// Execute captures the screenshot and returns it as an image block.
func (t *TakeScreenshotTool) Execute(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
	var args pageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.require(); err != nil {
		return nil, err
	}

	png, err := t.pool.Screenshot(ctx, args.BrowserID, args.PageID)
	if err != nil {
		return ErrorResult("Failed to take screenshot of page %s: %v", args.PageID, err), nil
	}
	return &ToolResult{Content: []Content{
		{Type: "image", Data: base64.StdEncoding.EncodeToString(png), MimeType: "image/png"},
		TextContent(`{"success":true}`),
	}}, nil
}

type browserListResult struct {
	BrowserIDs []string `json:"browserIds"`
	Count      int      `json:"count"`
}

func browserList(pool Pool) browserListResult {
	ids := pool.ActiveSessionIDs()
	if ids == nil {
		ids = []string{}
	}
	return browserListResult{BrowserIDs: ids, Count: len(ids)}
}

var _ Pool = (*browser.Manager)(nil)
