package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/events"
)

// StartResponse is returned by POST /start.
type StartResponse struct {
	BrowserID string `json:"browserId"`
	Message   string `json:"message"`
}

// StopRequest is the body of POST /stop.
type StopRequest struct {
	BrowserID string `json:"browserId" binding:"required"`
}

// URLRequest is the body of POST /test and navigate.
type URLRequest struct {
	URL string `json:"url" binding:"required"`
}

// MessageResponse carries a human-readable result.
type MessageResponse struct {
	Message string `json:"message"`
}

// TestResponse is returned by POST /test.
type TestResponse struct {
	Message    string `json:"message"`
	Screenshot string `json:"screenshot"`
	Content    string `json:"content"`
}

// ListResponse is returned by GET /browsers.
type ListResponse struct {
	BrowserIDs []string              `json:"browserIds"`
	Count      int                   `json:"count"`
	Sessions   []browser.SessionInfo `json:"sessions"`
}

// PageResponse is returned by page creation.
type PageResponse struct {
	BrowserID string `json:"browserId"`
	PageID    string `json:"pageId"`
}

// TextContentResponse is returned by content?format=text.
type TextContentResponse struct {
	BrowserID string `json:"browserId"`
	PageID    string `json:"pageId"`
	*browser.TextContent
}

type browserEvent struct {
	BrowserID string `json:"browserId"`
	Reason    string `json:"reason,omitempty"`
}

type pageEvent struct {
	BrowserID string `json:"browserId"`
	PageID    string `json:"pageId"`
	URL       string `json:"url,omitempty"`
	Bytes     int    `json:"bytes,omitempty"`
}

type testEvent struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// Start handles POST /start.
func (s *Server) Start(c *gin.Context) {
	id, err := s.pool.CreateSession(c.Request.Context())
	if err != nil {
		s.log.Errorf("failed to create browser instance: %v", err)
		sendPoolError(c, err, "Failed to create browser instance")
		return
	}

	s.broadcast(events.TypeBrowserCreated, browserEvent{BrowserID: id})
	c.JSON(http.StatusOK, StartResponse{
		BrowserID: id,
		Message:   "Browser instance created successfully",
	})
}

// Stop handles POST /stop.
func (s *Server) Stop(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "browserId is required")
		return
	}

	if err := s.closeSession(c.Request.Context(), req.BrowserID); err != nil {
		if errors.Is(err, browser.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Browser instance not found: "+req.BrowserID)
			return
		}
		sendPoolError(c, err, "Failed to stop browser instance")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Browser instance %s closed successfully", req.BrowserID),
	})
}

// CloseBrowser handles DELETE /browsers/:browserId.
func (s *Server) CloseBrowser(c *gin.Context) {
	id := c.Param("browserId")
	if err := s.closeSession(c.Request.Context(), id); err != nil {
		sendPoolError(c, err, "Failed to close browser instance")
		return
	}
	c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Browser instance %s closed successfully", id),
	})
}

// closeSession closes id. A session that failed to close cleanly is still
// gone from the pool, so the closed event is sent for it too.
func (s *Server) closeSession(ctx context.Context, id string) error {
	err := s.pool.CloseSession(ctx, id)
	if err != nil && errors.Is(err, browser.ErrSessionNotFound) {
		return err
	}
	s.broadcast(events.TypeBrowserClosed, browserEvent{BrowserID: id, Reason: string(browser.ReasonClosed)})
	return err
}

// Test handles POST /test: open a throwaway browser, load the URL, capture
// it and close the browser again.
func (s *Server) Test(c *gin.Context) {
	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "url is required")
		return
	}
	if err := s.opts.Policy.Check(req.URL); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	ctx := c.Request.Context()
	resp, message, err := s.runTest(ctx, req.URL)
	if err != nil {
		s.log.Errorf("test of %s failed: %v", req.URL, err)
		s.broadcast(events.TypeTestFailed, testEvent{URL: req.URL, Error: message})
		sendPoolError(c, err, message)
		return
	}

	s.broadcast(events.TypeTestCompleted, testEvent{URL: req.URL})
	c.JSON(http.StatusOK, resp)
}

// runTest returns the response or the error with the message describing
// the failed step.
func (s *Server) runTest(ctx context.Context, url string) (*TestResponse, string, error) {
	id, err := s.pool.CreateSession(ctx)
	if err != nil {
		return nil, "Failed to create browser instance", err
	}
	defer func() {
		// The request context may already be gone; closing must still happen.
		if err := s.pool.CloseSession(context.WithoutCancel(ctx), id); err != nil {
			s.log.Warnf("failed to close test browser %s: %v", id, err)
		}
	}()

	pageID, err := s.pool.CreatePage(ctx, id)
	if err != nil {
		return nil, "Failed to create page", err
	}
	if err := s.pool.Navigate(ctx, id, pageID, url); err != nil {
		return nil, "Failed to navigate to " + url, err
	}
	png, err := s.pool.Screenshot(ctx, id, pageID)
	if err != nil {
		return nil, "Failed to take screenshot", err
	}
	content, err := s.pool.Content(ctx, id, pageID)
	if err != nil || content == "" {
		content = "No content available"
	}

	return &TestResponse{
		Message:    "Test completed successfully",
		Screenshot: base64.StdEncoding.EncodeToString(png),
		Content:    content,
	}, "", nil
}

// ListBrowsers handles GET /browsers.
func (s *Server) ListBrowsers(c *gin.Context) {
	sessions := s.pool.Sessions()
	ids := make([]string, 0, len(sessions))
	for _, info := range sessions {
		ids = append(ids, info.ID)
	}
	c.JSON(http.StatusOK, ListResponse{
		BrowserIDs: ids,
		Count:      len(ids),
		Sessions:   sessions,
	})
}

// CreatePage handles POST /browsers/:browserId/pages.
func (s *Server) CreatePage(c *gin.Context) {
	id := c.Param("browserId")
	pageID, err := s.pool.CreatePage(c.Request.Context(), id)
	if err != nil {
		sendPoolError(c, err, "Failed to create page")
		return
	}

	s.broadcast(events.TypePageCreated, pageEvent{BrowserID: id, PageID: pageID})
	c.JSON(http.StatusCreated, PageResponse{BrowserID: id, PageID: pageID})
}

// Navigate handles POST /browsers/:browserId/pages/:pageId/navigate.
func (s *Server) Navigate(c *gin.Context) {
	id, pageID := c.Param("browserId"), c.Param("pageId")

	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "url is required")
		return
	}
	if err := s.opts.Policy.Check(req.URL); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	if err := s.pool.Navigate(c.Request.Context(), id, pageID, req.URL); err != nil {
		sendPoolError(c, err, "Failed to navigate to "+req.URL)
		return
	}

	s.broadcast(events.TypePageNavigated, pageEvent{BrowserID: id, PageID: pageID, URL: req.URL})
	c.JSON(http.StatusOK, MessageResponse{Message: "Navigated to " + req.URL})
}

// Screenshot handles GET /browsers/:browserId/pages/:pageId/screenshot.
func (s *Server) Screenshot(c *gin.Context) {
	id, pageID := c.Param("browserId"), c.Param("pageId")

	png, err := s.pool.Screenshot(c.Request.Context(), id, pageID)
	if err != nil {
		sendPoolError(c, err, "Failed to take screenshot")
		return
	}

	s.broadcast(events.TypeScreenshotTaken, pageEvent{BrowserID: id, PageID: pageID, Bytes: len(png)})
	c.Data(http.StatusOK, "image/png", png)
}

// Content handles GET /browsers/:browserId/pages/:pageId/content. With
// ?format=text the page is reduced to readable text.
func (s *Server) Content(c *gin.Context) {
	id, pageID := c.Param("browserId"), c.Param("pageId")

	content, err := s.pool.Content(c.Request.Context(), id, pageID)
	if err != nil {
		sendPoolError(c, err, "Failed to get page content")
		return
	}

	switch c.DefaultQuery("format", "html") {
	case "text":
		text, err := browser.ExtractText(content, browser.DefaultMaxTextLength)
		if err != nil {
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to extract text: "+err.Error())
			return
		}
		c.JSON(http.StatusOK, TextContentResponse{BrowserID: id, PageID: pageID, TextContent: text})
	case "html":
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(content))
	default:
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "format must be 'html' or 'text'")
	}
}

// ClosePage handles DELETE /browsers/:browserId/pages/:pageId.
func (s *Server) ClosePage(c *gin.Context) {
	id, pageID := c.Param("browserId"), c.Param("pageId")

	err := s.pool.ClosePage(c.Request.Context(), id, pageID)
	if err != nil && (errors.Is(err, browser.ErrSessionNotFound) || errors.Is(err, browser.ErrPageNotFound)) {
		sendPoolError(c, err, "Failed to close page")
		return
	}
	s.broadcast(events.TypePageClosed, pageEvent{BrowserID: id, PageID: pageID})
	if err != nil {
		sendPoolError(c, err, "Failed to close page")
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("Page %s closed successfully", pageID)})
}
