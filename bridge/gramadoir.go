package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

const gramadoirPath = "/api/gramadoir/1.0"

// GrammarChecker talks to an An Gramadóir instance. The upstream answers
// with a sequence of issue objects carrying message, rule identifier, and
// (sometimes) positional fields.
type GrammarChecker struct {
	client *Client
}

// NewGrammarChecker builds a grammar checker over a policy client.
func NewGrammarChecker(cfg Config, opts ...Option) *GrammarChecker {
	return &GrammarChecker{client: NewClient("gramadoir", cfg, opts...)}
}

// Client exposes the underlying policy client for health probing.
func (g *GrammarChecker) Client() *Client { return g.client }

// flexInt tolerates the upstream's habit of sending offsets as either JSON
// numbers or numeric strings. Absent or unparseable values read as 0.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// grammarIssueWire accepts both the live Gramadóir field names (ruleId, msg,
// fromx, tox) and the simplified names some deployments emit. Extra fields
// (context, errorlength, fromy, toy, ...) are ignored.
type grammarIssueWire struct {
	RuleID      string   `json:"ruleId"`
	Code        string   `json:"code"`
	Msg         string   `json:"msg"`
	Message     string   `json:"message"`
	FromX       *flexInt `json:"fromx"`
	Start       *flexInt `json:"start"`
	ToX         *flexInt `json:"tox"`
	End         *flexInt `json:"end"`
	Suggestions []string `json:"suggestions"`
}

// Analyze grammar-checks text and normalizes the issues. Offsets default to
// 0,0 when the upstream omits them; a reported end before its start is
// clamped so Start <= End always holds.
func (g *GrammarChecker) Analyze(ctx context.Context, text string) ([]Issue, error) {
	body, err := g.client.postCheck(ctx, gramadoirPath, text)
	if err != nil {
		return nil, err
	}

	var wire []grammarIssueWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	issues := make([]Issue, 0, len(wire))
	for _, w := range wire {
		issue := Issue{
			Code:        firstNonEmpty(w.RuleID, w.Code),
			Message:     firstNonEmpty(w.Msg, w.Message),
			Suggestions: w.Suggestions,
		}
		if issue.Suggestions == nil {
			issue.Suggestions = []string{}
		}
		if v := coalesceInt(w.FromX, w.Start); v != nil {
			issue.Start = int(*v)
		}
		if v := coalesceInt(w.ToX, w.End); v != nil {
			issue.End = int(*v)
		}
		if issue.End < issue.Start {
			issue.End = issue.Start
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func coalesceInt(vals ...*flexInt) *flexInt {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
