package generator

import (
	"context"

	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/llm"
	"github.com/josh5210/writefully/internal/model"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ llm.Client = (*FallbackClient)(nil)

// FallbackClient wraps a primary and a backup generation client. The backup
// is attempted exactly once and only on timeout-kind failures; other errors
// propagate immediately so the engine's retry policy handles them. When both
// attempts fail, the original timeout error surfaces.
type FallbackClient struct {
	primary llm.Client
	backup  llm.Client
	logger  *zap.Logger
}

// NewFallbackClient creates the primary/backup pair.
func NewFallbackClient(primary, backup llm.Client, logger *zap.Logger) *FallbackClient {
	return &FallbackClient{
		primary: primary,
		backup:  backup,
		logger:  logger.Named("FallbackClient"),
	}
}

func (c *FallbackClient) ModelName() string {
	return c.primary.ModelName()
}

// GenerateContent tries the primary model, falling back to the backup model
// once when the primary timed out.
func (c *FallbackClient) GenerateContent(ctx context.Context, userPrompt, systemPrompt string, category llm.OperationCategory) (*llm.Response, error) {
	resp, err := c.primary.GenerateContent(ctx, userPrompt, systemPrompt, category)
	if err == nil {
		return resp, nil
	}
	if !model.IsTimeout(err) {
		return nil, err
	}

	c.logger.Warn("Primary model timed out, attempting backup model",
		zap.String("primary", c.primary.ModelName()),
		zap.String("backup", c.backup.ModelName()),
		zap.String("category", string(category)),
	)

	backupResp, backupErr := c.backup.GenerateContent(ctx, userPrompt, systemPrompt, category)
	if backupErr != nil {
		c.logger.Error("Backup model also failed", zap.Error(backupErr))
		return nil, err
	}

	c.logger.Info("Backup model succeeded after primary timeout",
		zap.String("backup", c.backup.ModelName()))
	return backupResp, nil
}
