// Package explain turns a raw pixel diff into a structured, human-readable
// change report via vision-capable model providers. Providers form a strict
// ordered fallback: the first one with credentials is invoked, exactly once
// per call; when none is configured or the output cannot be parsed, the
// result degrades to a synthetic explanation or raw text instead of an
// error. Explanation failures never block verdict recording.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"pixelwatch/internal/config"

	"go.uber.org/zap"
)

// Change describes one detected UI difference.
type Change struct {
	Location      string `json:"location"`
	BaselineState string `json:"baseline_state"`
	CurrentState  string `json:"current_state"`
	Description   string `json:"description"`
}

// Explanation is the terminal value of one explain call. Either Changes is
// populated from validated provider JSON, or RawText carries the degraded
// output. A synthetic "Error" change is a valid terminal value, not a
// failure.
type Explanation struct {
	Changes []Change `json:"changes,omitempty"`
	RawText string   `json:"raw_text,omitempty"`
}

// NoDifferencesMessage is the sentinel for an empty provider change list.
const NoDifferencesMessage = "No significant visual differences described by AI."

// visualAnalystPrompt is the fixed instruction contract shared by every
// provider.
const visualAnalystPrompt = `You are a Visual QA Analyst. Your job is to explain UI changes based on three inputs.

**Input Images:**
1. **Baseline**: The original, correct state.
2. **Current**: The new, broken state.
3. **Diff**: A guide map where RED/PINK pixels highlight changes.

**Process (You MUST follow this strictly):**
STEP 1: Scan the **Diff Image**. Find the largest red/highlighted regions.
STEP 2: For each region found, "look" at the same coordinates in the **Baseline Image**. Describe what was there.
STEP 3: "Look" at the same coordinates in the **Current Image**. Describe what is there now.
STEP 4: Combine these observations into a single clear sentence.

**Output Format:**
Return a valid JSON object with a list of changes. Do not chat.
{
  "changes": [
    {
      "location": "Top-right corner / Navigation Bar / Footer",
      "baseline_state": "Button was blue (#0055FF)",
      "current_state": "Button is now green (#00FF00)",
      "description": "The 'Submit' button changed color from blue to green."
    }
  ]
}`

const analysisRequest = "Analyze the Diff image to find changes, then compare Baseline vs Current at those specific spots. Output ONLY valid JSON."

// Images carries the three raw PNG payloads every provider receives.
type Images struct {
	Baseline []byte
	Current  []byte
	Diff     []byte
}

// Provider is one vision-capable explanation backend.
type Provider interface {
	Name() string
	// Available reports whether the provider has credentials configured.
	Available() bool
	// Explain sends the three images plus the fixed instruction and returns
	// the model's raw text response.
	Explain(ctx context.Context, images Images) (string, error)
}

// Chain evaluates providers in order and degrades gracefully.
type Chain struct {
	providers []Provider
	timeout   config.ExplainConfig
	logger    *zap.Logger
}

// NewChain builds the standard chain: Gemini first, Anthropic second.
func NewChain(cfg config.ExplainConfig, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		providers: []Provider{
			NewGeminiProvider(cfg),
			NewAnthropicProvider(cfg),
		},
		timeout: cfg,
		logger:  logger.Named("explain"),
	}
}

// NewChainWithProviders builds a chain over explicit providers, in order.
func NewChainWithProviders(logger *zap.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{providers: providers, logger: logger.Named("explain")}
}

// Explain reads the three artifacts and runs the first available provider.
// The returned Explanation is always usable; provider and parsing failures
// surface as degraded values, never as errors.
func (c *Chain) Explain(ctx context.Context, baselinePath, currentPath, diffPath string) *Explanation {
	images, err := readImages(baselinePath, currentPath, diffPath)
	if err != nil {
		c.logger.Warn("Could not read diff artifacts for explanation", zap.Error(err))
		return errorExplanation(err)
	}

	var provider Provider
	for _, p := range c.providers {
		if p.Available() {
			provider = p
			break
		}
	}
	if provider == nil {
		c.logger.Info("No explanation provider configured")
		return &Explanation{Changes: []Change{{
			Location:    "Error",
			Description: "AI analysis disabled: no provider credentials configured.",
		}}}
	}

	c.logger.Info("Requesting diff explanation", zap.String("provider", provider.Name()))
	ctx, cancel := context.WithTimeout(ctx, c.timeout.Timeout())
	defer cancel()
	text, err := provider.Explain(ctx, images)
	if err != nil {
		c.logger.Warn("Vision analysis failed",
			zap.String("provider", provider.Name()),
			zap.Error(err))
		return errorExplanation(err)
	}

	return Parse(text)
}

// Parse validates the provider output against the change-list schema.
// Schema violations degrade to raw text; an empty change list becomes the
// no-differences sentinel.
func Parse(text string) *Explanation {
	jsonStr, ok := ExtractJSON(text)
	if !ok {
		return &Explanation{RawText: text}
	}

	var payload struct {
		Changes []Change `json:"changes"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(jsonStr)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return &Explanation{RawText: text}
	}
	for _, ch := range payload.Changes {
		if strings.TrimSpace(ch.Description) == "" {
			return &Explanation{RawText: text}
		}
	}

	if len(payload.Changes) == 0 {
		return &Explanation{RawText: NoDifferencesMessage}
	}
	return &Explanation{Changes: payload.Changes}
}

func errorExplanation(err error) *Explanation {
	return &Explanation{Changes: []Change{{
		Location:    "Error",
		Description: fmt.Sprintf("Error: AI Analysis failed. %v", err),
	}}}
}

func readImages(baselinePath, currentPath, diffPath string) (Images, error) {
	var images Images
	var err error
	if images.Baseline, err = os.ReadFile(baselinePath); err != nil {
		return images, err
	}
	if images.Current, err = os.ReadFile(currentPath); err != nil {
		return images, err
	}
	if images.Diff, err = os.ReadFile(diffPath); err != nil {
		return images, err
	}
	return images, nil
}
