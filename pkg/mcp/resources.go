package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"regexp"

	"github.com/entrhq/browserd/pkg/browser"
)

const browsersURI = "puppeteer://browsers"

var (
	screenshotURI = regexp.MustCompile(`^puppeteer://browser/([^/]+)/page/([^/]+)/screenshot$`)
	contentURI    = regexp.MustCompile(`^puppeteer://browser/([^/]+)/page/([^/]+)/content$`)
)

func resourceList() []Resource {
	return []Resource{{
		URI:         browsersURI,
		Name:        "Active browser instances",
		MimeType:    "application/json",
		Description: "List of all active browser instances",
	}}
}

func resourceTemplates() []ResourceTemplate {
	return []ResourceTemplate{
		{
			URITemplate: "puppeteer://browser/{browserId}/page/{pageId}/screenshot",
			Name:        "Screenshot of a page",
			MimeType:    "image/png",
			Description: "Get a screenshot of a specific page in a browser instance",
		},
		{
			URITemplate: "puppeteer://browser/{browserId}/page/{pageId}/content",
			Name:        "HTML content of a page",
			MimeType:    "text/html",
			Description: "Get the HTML content of a specific page in a browser instance",
		},
		{
			URITemplate: browsersURI,
			Name:        "List of active browser instances",
			MimeType:    "application/json",
			Description: "Get a list of all active browser instances",
		},
	}
}

// readResource resolves a resource URI. Unknown URIs are an invalid request.
func (s *Server) readResource(ctx context.Context, uri string) ([]ResourceContents, error) {
	if uri == browsersURI {
		data, err := json.MarshalIndent(browserList(s.pool), "", "  ")
		if err != nil {
			return nil, NewError(CodeInternalError, "Error listing browser instances: %v", err)
		}
		return []ResourceContents{{URI: uri, MimeType: "application/json", Text: string(data)}}, nil
	}

	if m := screenshotURI.FindStringSubmatch(uri); m != nil {
		png, err := s.pool.Screenshot(ctx, m[1], m[2])
		if err != nil {
			return nil, resourceError(err, "Error taking screenshot")
		}
		return []ResourceContents{{
			URI:      uri,
			MimeType: "image/png",
			Blob:     base64.StdEncoding.EncodeToString(png),
		}}, nil
	}

	if m := contentURI.FindStringSubmatch(uri); m != nil {
		content, err := s.pool.Content(ctx, m[1], m[2])
		if err != nil {
			return nil, resourceError(err, "Error getting page content")
		}
		return []ResourceContents{{URI: uri, MimeType: "text/html", Text: content}}, nil
	}

	return nil, NewError(CodeInvalidRequest, "Resource not found: %s", uri)
}

// resourceError reports unknown sessions and pages as an invalid request.
func resourceError(err error, message string) *Error {
	if errors.Is(err, browser.ErrSessionNotFound) || errors.Is(err, browser.ErrPageNotFound) {
		return NewError(CodeInvalidRequest, "%s: %v", message, err)
	}
	return NewError(CodeInternalError, "%s: %v", message, err)
}
