package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed moderation.rego
var DefaultPolicy string

// Action names a privileged operation
type Action string

const (
	ActionDeleteMessage    Action = "chat.delete"
	ActionBan              Action = "chat.ban"
	ActionUnban            Action = "chat.unban"
	ActionTimeout          Action = "chat.timeout"
	ActionManagePolls      Action = "poll.manage"
	ActionManageQuizzes    Action = "quiz.manage"
	ActionManageChallenges Action = "challenge.manage"
	ActionUpdateSettings   Action = "settings.update"
	ActionManageFilters    Action = "filter.manage"
	ActionManageEmotes     Action = "emote.manage"
	ActionManageModerators Action = "moderator.manage"
	ActionManageStream     Action = "stream.manage"
)

// Input describes who wants to do what to whom
type Input struct {
	Action            Action
	Actor             string
	Owner             string
	ActorIsModerator  bool
	Target            string
	TargetIsModerator bool
}

// Decision is the policy verdict
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Engine evaluates the moderator capability policy
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares the policy module for evaluation
func NewEngine(ctx context.Context, module string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.streamkit.moderation.decision"),
		rego.Module("moderation.rego", module),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewDefaultEngine prepares the built-in policy
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return NewEngine(ctx, DefaultPolicy)
}

// Decide evaluates in. Any evaluation failure denies.
func (e *Engine) Decide(ctx context.Context, in Input) (Decision, error) {
	input := map[string]interface{}{
		"action":              string(in.Action),
		"actor":               in.Actor,
		"owner":               in.Owner,
		"actor_is_moderator":  in.ActorIsModerator,
		"target_is_moderator": in.TargetIsModerator,
	}
	if in.Target != "" {
		input["target"] = in.Target
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{Reason: "policy_error"}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Reason: "no_decision"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{Reason: "unexpected_result"}, fmt.Errorf("unexpected policy result %T", results[0].Expressions[0].Value)
	}

	allow, _ := obj["allow"].(bool)
	reason, _ := obj["reason"].(string)
	return Decision{Allow: allow, Reason: reason}, nil
}
