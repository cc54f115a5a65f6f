package ai

import (
	"errors"

	"github.com/kiranshivaraju/buildwatch/internal/ai/llmhttp"
)

var (
	ErrProviderUnavailable = llmhttp.ErrProviderUnavailable
	ErrInferenceTimeout    = llmhttp.ErrInferenceTimeout
	ErrInvalidResponse     = llmhttp.ErrInvalidResponse
	ErrCircuitOpen         = errors.New("ai circuit open")
)
