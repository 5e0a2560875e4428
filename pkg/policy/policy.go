// Package policy evaluates the role-hierarchy decision table of §4.3
// through Open Policy Agent's Rego engine, rather than an if-chain in Go.
// The rules are a Rego module (defaultModule) compiled into the binary;
// NewEngine always uses it, so changing the hierarchy needs a rebuild.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// defaultModule is the role-hierarchy table itself. org owner always wins;
// otherwise repo membership role governs; otherwise public visibility
// grants read; otherwise none.
const defaultModule = `
package plectr.access

default role = "none"

role = "admin" {
	input.org_role == "owner"
}

role = "admin" {
	input.member_role == "admin"
}

role = "write" {
	not input.org_role == "owner"
	input.member_role == "editor"
}

role = "read" {
	not input.org_role == "owner"
	input.member_role == "viewer"
}

role = "read" {
	not input.org_role == "owner"
	not input.member_role
	input.is_public == true
}

weight = {"none": 0, "read": 1, "write": 2, "admin": 3}

allowed {
	weight[role] >= weight[input.required]
}
`

// Input is the facts a capability guard collects with one SQL join before
// asking the policy engine to decide.
type Input struct {
	OrgRole    string `json:"org_role,omitempty"`
	MemberRole string `json:"member_role,omitempty"`
	IsPublic   bool   `json:"is_public"`
	Required   string `json:"required"`
}

// Role values, in ascending order of capability.
const (
	RoleNone  = "none"
	RoleRead  = "read"
	RoleWrite = "write"
	RoleAdmin = "admin"
)

type Engine struct {
	module string
}

func NewEngine() *Engine {
	return &Engine{module: defaultModule}
}

// Resolve evaluates the role the input resolves to (independent of any
// required level).
func (e *Engine) Resolve(ctx context.Context, in Input) (string, error) {
	query, err := rego.New(
		rego.Query("data.plectr.access.role"),
		rego.Module("access.rego", e.module),
	).PrepareForEval(ctx)
	if err != nil {
		return "", fmt.Errorf("prepare policy: %w", err)
	}

	results, err := query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return "", fmt.Errorf("eval policy: %w", err)
	}
	if len(results) == 0 {
		return RoleNone, nil
	}

	role, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return RoleNone, nil
	}
	return role, nil
}

// Allowed evaluates whether the resolved role satisfies in.Required.
func (e *Engine) Allowed(ctx context.Context, in Input) (bool, error) {
	query, err := rego.New(
		rego.Query("data.plectr.access.allowed"),
		rego.Module("access.rego", e.module),
	).PrepareForEval(ctx)
	if err != nil {
		return false, fmt.Errorf("prepare policy: %w", err)
	}

	results, err := query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(results) == 0 {
		return false, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}
