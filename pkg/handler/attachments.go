package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/config"
	"github.com/slackfast/slack-fast-mcp/pkg/provider"
	"github.com/slackfast/slack-fast-mcp/pkg/text"
)

// maxFileSizeBytes caps downloads at 5MB so a single attachment cannot blow
// up the MCP response.
const maxFileSizeBytes = 5 * 1024 * 1024

type AttachmentResult struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Mimetype string `json:"mimetype"`
	Size     int    `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type AttachmentsHandler struct {
	apiProvider *provider.ApiProvider
	logger      *zap.Logger
}

func NewAttachmentsHandler(apiProvider *provider.ApiProvider, logger *zap.Logger) *AttachmentsHandler {
	return &AttachmentsHandler{
		apiProvider: apiProvider,
		logger:      logger,
	}
}

// AttachmentGetHandler downloads a file shared in Slack and returns its
// content, either as plain text or base64 encoded for binary types.
func (ah *AttachmentsHandler) AttachmentGetHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ah.logger.Debug("AttachmentGetHandler called", zap.Any("params", request.Params))

	if !attachmentToolEnabled(ah.apiProvider.Config()) {
		ah.logger.Warn("Attachment tool is disabled")
		return nil, errors.New(
			"by default, the attachment_get_data tool is disabled to guard against accidental exposure of file contents." +
				" To enable it, set the SLACK_MCP_ATTACHMENT_TOOL environment variable to true",
		)
	}

	fileID := request.GetString("file_id", "")
	if fileID == "" {
		return nil, errors.New("file_id must be a string")
	}

	file, _, _, err := ah.apiProvider.Slack().GetFileInfoContext(ctx, fileID, 1, 1)
	if err != nil {
		ah.logger.Error("Failed to get file info",
			zap.String("file_id", fileID),
			zap.Error(err),
		)
		return nil, err
	}

	if file.Size > maxFileSizeBytes {
		return nil, fmt.Errorf("file %q is too large: %d bytes, limit is %d bytes", fileID, file.Size, maxFileSizeBytes)
	}

	downloadURL := file.URLPrivateDownload
	if downloadURL == "" {
		downloadURL = file.URLPrivate
	}
	if downloadURL == "" {
		return nil, fmt.Errorf("file %q has no downloadable URL", fileID)
	}

	var buf bytes.Buffer
	if err := ah.apiProvider.Slack().GetFileContext(ctx, downloadURL, &buf); err != nil {
		ah.logger.Error("Failed to download file",
			zap.String("file_id", fileID),
			zap.Error(err),
		)
		return nil, err
	}

	result := AttachmentResult{
		FileID:   file.ID,
		Filename: file.Name,
		Mimetype: file.Mimetype,
		Size:     buf.Len(),
	}

	if isTextMimetype(file.Mimetype) {
		result.Encoding = "text"
		result.Content = text.WrapSlackContent(buf.String())
	} else {
		result.Encoding = "base64"
		result.Content = base64.StdEncoding.EncodeToString(buf.Bytes())
	}

	ah.logger.Debug("Attachment downloaded",
		zap.String("file_id", fileID),
		zap.String("mimetype", file.Mimetype),
		zap.String("encoding", result.Encoding),
		zap.Int("size", result.Size),
	)

	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// attachmentToolEnabled is a plain on/off switch, not a channel policy;
// file contents are not scoped to a channel.
func attachmentToolEnabled(cfg *config.Config) bool {
	switch cfg.AttachmentTool {
	case "true", "1", "yes":
		return true
	}
	return slices.Contains(cfg.EnabledTools, "attachment_get_data")
}

func isTextMimetype(mimetype string) bool {
	if strings.HasPrefix(mimetype, "text/") {
		return true
	}

	switch mimetype {
	case "application/json",
		"application/xml",
		"application/javascript",
		"application/x-sh",
		"application/x-yaml",
		"application/yaml",
		"application/csv",
		"application/sql":
		return true
	}

	return false
}
