package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		maxLength int
		wantTitle string
		wantDesc  string
		wantText  string
		truncated bool
	}{
		{
			name: "drops scripts and styles",
			input: `<html>
				<head>
					<title>Test Page</title>
					<meta name="description" content="Test description">
					<style>body { color: red; }</style>
				</head>
				<body>
					<h1>Hello World</h1>
					<p>This is <b>a</b> test.</p>
					<script>alert('evil');</script>
					<div>Footer</div>
				</body>
			</html>`,
			wantTitle: "Test Page",
			wantDesc:  "Test description",
			wantText:  "Hello World\nThis is a test.\nFooter",
		},
		{
			name:     "line breaks",
			input:    `<body>one<br>two</body>`,
			wantText: "one\ntwo",
		},
		{
			name:     "collapses whitespace",
			input:    "<p>  lots \n\t of   space </p>",
			wantText: "lots of space",
		},
		{
			name:      "truncates",
			input:     `<p>Hello world</p>`,
			maxLength: 5,
			wantText:  "Hello...",
			truncated: true,
		},
		{
			name:     "no body element",
			input:    `plain text`,
			wantText: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractText(tt.input, tt.maxLength)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, got.Title)
			assert.Equal(t, tt.wantDesc, got.Description)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, tt.truncated, got.Truncated)
		})
	}
}
