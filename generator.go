package gateward

import (
	"bytes"
	"context"
	"fmt"

	"github.com/steambap/captcha"
)

// CaptchaGenerator is the default ChallengeGenerator. It renders a distorted
// PNG of a short code drawn from an unambiguous character set, sized for
// inline display.
type CaptchaGenerator struct {
	width  int
	height int
	length int
	preset string
}

// NewCaptchaGenerator describes the newcaptchagenerator operation and its observable behavior.
//
// NewCaptchaGenerator does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewCaptchaGenerator(cfg ChallengeConfig, secretLength int) *CaptchaGenerator {
	return &CaptchaGenerator{
		width:  cfg.Width,
		height: cfg.Height,
		length: secretLength,
		preset: cfg.CharPreset,
	}
}

// Generate describes the generate operation and its observable behavior.
//
// Generate may return an error when input validation, dependency calls, or security checks fail.
// Generate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *CaptchaGenerator) Generate(ctx context.Context) (*Challenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := captcha.New(g.width, g.height, func(options *captcha.Options) {
		options.CharPreset = g.preset
		options.TextLength = g.length
	})
	if err != nil {
		return nil, fmt.Errorf("render captcha: %w", err)
	}

	var buf bytes.Buffer
	if err := data.WriteImage(&buf); err != nil {
		return nil, fmt.Errorf("encode captcha image: %w", err)
	}

	return &Challenge{
		Secret: data.Text,
		Image:  buf.Bytes(),
	}, nil
}
