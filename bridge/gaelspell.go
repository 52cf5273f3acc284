package bridge

import (
	"context"
	"encoding/json"
	"fmt"
)

const gaelspellPath = "/api/gaelspell/1.0"

// SpellChecker talks to a GaelSpell instance. The upstream answers with a
// sequence of (token, suggestions) pairs and no positional data.
type SpellChecker struct {
	client *Client
}

// NewSpellChecker builds a spell checker over a policy client.
func NewSpellChecker(cfg Config, opts ...Option) *SpellChecker {
	return &SpellChecker{client: NewClient("gaelspell", cfg, opts...)}
}

// Client exposes the underlying policy client for health probing.
func (s *SpellChecker) Client() *Client { return s.client }

// spellPair is one wire element: a two-element array of token and
// suggestion list.
type spellPair struct {
	Token       string
	Suggestions []string
}

func (p *spellPair) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) < 2 {
		return fmt.Errorf("expected [token, suggestions] pair, got %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &p.Token); err != nil {
		return fmt.Errorf("token element: %w", err)
	}
	if err := json.Unmarshal(parts[1], &p.Suggestions); err != nil {
		return fmt.Errorf("suggestions element: %w", err)
	}
	return nil
}

// Check spell-checks text and normalizes the corrections. GaelSpell never
// reports offsets, so Start and End stay 0.
func (s *SpellChecker) Check(ctx context.Context, text string) ([]Issue, error) {
	body, err := s.client.postCheck(ctx, gaelspellPath, text)
	if err != nil {
		return nil, err
	}

	var pairs []spellPair
	if err := json.Unmarshal(body, &pairs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	issues := make([]Issue, 0, len(pairs))
	for _, p := range pairs {
		suggestions := p.Suggestions
		if suggestions == nil {
			suggestions = []string{}
		}
		issues = append(issues, Issue{
			Code:        "SPELLING",
			Message:     fmt.Sprintf("no dictionary match for %q", p.Token),
			Token:       p.Token,
			Suggestions: suggestions,
		})
	}
	return issues, nil
}
