package text

import (
	"testing"

	"github.com/slack-go/slack"
)

func TestTimestampToRFC3339(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "typical timestamp", input: "1234567890.123456", want: "2009-02-13T23:31:30Z"},
		{name: "zero micros", input: "1700000000.000000", want: "2023-11-14T22:13:20Z"},
		{name: "no dot", input: "1234567890", wantErr: true},
		{name: "two dots", input: "123.456.789", wantErr: true},
		{name: "non numeric seconds", input: "abc.123456", wantErr: true},
		{name: "non numeric micros", input: "1234567890.xyz", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TimestampToRFC3339(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("TimestampToRFC3339(%q) expected error, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("TimestampToRFC3339(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("TimestampToRFC3339(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestWorkspace(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "standard workspace url", input: "https://myteam.slack.com/", want: "myteam"},
		{name: "enterprise url", input: "https://acme.enterprise.slack.com", want: "acme"},
		{name: "no subdomain", input: "https://slack.com/", wantErr: true},
		{name: "garbage", input: "not a url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Workspace(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Workspace(%q) expected error, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Workspace(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Workspace(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestAttachmentsToText(t *testing.T) {
	tests := []struct {
		name        string
		msgText     string
		attachments []slack.Attachment
		want        string
	}{
		{
			name:        "no attachments",
			msgText:     "hello",
			attachments: nil,
			want:        "",
		},
		{
			name:    "full attachment after message text",
			msgText: "look",
			attachments: []slack.Attachment{
				{Title: "Build failed", AuthorName: "CI", Pretext: "heads up", Text: "step 3 (lint)"},
			},
			want: ". Title: Build failed; Author: CI; Pretext: heads up; Text: step 3 [lint]",
		},
		{
			name:    "no prefix without message text",
			msgText: "",
			attachments: []slack.Attachment{
				{Title: "Standalone"},
			},
			want: "Title: Standalone",
		},
		{
			name:    "footer with timestamp",
			msgText: "x",
			attachments: []slack.Attachment{
				{Footer: "GitHub", Ts: "1234567890"},
			},
			want: ". Footer: GitHub @ 2009-02-13T23:31:30Z",
		},
		{
			name:    "multiple attachments joined",
			msgText: "x",
			attachments: []slack.Attachment{
				{Title: "One"},
				{Title: "Two\nLines"},
			},
			want: ". Title: One, Title: Two Lines",
		},
		{
			name:    "empty attachments ignored",
			msgText: "x",
			attachments: []slack.Attachment{
				{},
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AttachmentsToText(tt.msgText, tt.attachments)
			if got != tt.want {
				t.Errorf("AttachmentsToText() = %q, want %q", got, tt.want)
			}
		})
	}
}
