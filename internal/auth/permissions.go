package auth

import (
	"sort"
	"strings"
)

// Modules and actions known to the deployment.
const (
	ModuleSpedizioni = "spedizioni"
	ModuleGestione   = "gestione"
	ModuleReport     = "report"
	ModuleSistema    = "sistema"

	ActionRead    = "read"
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionApprove = "approve"
	ActionExport  = "export"
)

var (
	knownModules = []string{ModuleSpedizioni, ModuleGestione, ModuleReport, ModuleSistema}
	knownActions = []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionApprove, ActionExport}
)

// Modules returns the closed module enumeration.
func Modules() []string { return append([]string(nil), knownModules...) }

// Actions returns the closed action enumeration.
func Actions() []string { return append([]string(nil), knownActions...) }

// RuleKind tags a parsed permission string.
type RuleKind uint8

const (
	RuleGlobal RuleKind = iota + 1
	RuleModuleWildcard
	RuleSpecific
	RuleDenyGlobal
	RuleDenyModuleWildcard
	RuleDenySpecific
)

// Rule is the parsed form of a permission string.
type Rule struct {
	Kind   RuleKind
	Module string
	Action string
}

// ParseRule parses "*", "module.*", "module.action" or any of those prefixed with "!".
func ParseRule(raw string) (Rule, bool) {
	raw = strings.TrimSpace(raw)
	deny := strings.HasPrefix(raw, "!")
	if deny {
		raw = raw[1:]
	}
	if raw == "*" {
		if deny {
			return Rule{Kind: RuleDenyGlobal}, true
		}
		return Rule{Kind: RuleGlobal}, true
	}
	module, action, ok := strings.Cut(raw, ".")
	if !ok || module == "" || action == "" || module == "*" || strings.Contains(action, ".") {
		return Rule{}, false
	}
	if action == "*" {
		if deny {
			return Rule{Kind: RuleDenyModuleWildcard, Module: module}, true
		}
		return Rule{Kind: RuleModuleWildcard, Module: module}, true
	}
	if deny {
		return Rule{Kind: RuleDenySpecific, Module: module, Action: action}, true
	}
	return Rule{Kind: RuleSpecific, Module: module, Action: action}, true
}

func (r Rule) String() string {
	switch r.Kind {
	case RuleGlobal:
		return "*"
	case RuleModuleWildcard:
		return r.Module + ".*"
	case RuleSpecific:
		return r.Module + "." + r.Action
	case RuleDenyGlobal:
		return "!*"
	case RuleDenyModuleWildcard:
		return "!" + r.Module + ".*"
	case RuleDenySpecific:
		return "!" + r.Module + "." + r.Action
	default:
		return ""
	}
}

// ValidPermission reports whether raw parses and only names known modules and actions.
func ValidPermission(raw string) bool {
	rule, ok := ParseRule(raw)
	if !ok {
		return false
	}
	if rule.Module != "" && !contains(knownModules, rule.Module) {
		return false
	}
	if rule.Action != "" && !contains(knownActions, rule.Action) {
		return false
	}
	return true
}

// PermissionSet is a parsed, deduplicated permission grant. The zero value denies everything.
type PermissionSet struct {
	rules map[Rule]struct{}
}

// NewPermissionSet parses perms once. Strings that do not parse are dropped.
func NewPermissionSet(perms []string) PermissionSet {
	set := PermissionSet{rules: make(map[Rule]struct{}, len(perms))}
	for _, p := range perms {
		if rule, ok := ParseRule(p); ok {
			set.rules[rule] = struct{}{}
		}
	}
	return set
}

func (p PermissionSet) has(r Rule) bool {
	_, ok := p.rules[r]
	return ok
}

// Allows evaluates module.action deny-first with default deny.
// "!*" only cancels "*"; it is not a deny on its own.
func (p PermissionSet) Allows(module, action string) bool {
	if p.has(Rule{Kind: RuleDenyModuleWildcard, Module: module}) {
		return false
	}
	if p.has(Rule{Kind: RuleDenySpecific, Module: module, Action: action}) {
		return false
	}
	if p.has(Rule{Kind: RuleGlobal}) && !p.has(Rule{Kind: RuleDenyGlobal}) {
		return true
	}
	if p.has(Rule{Kind: RuleModuleWildcard, Module: module}) {
		return true
	}
	return p.has(Rule{Kind: RuleSpecific, Module: module, Action: action})
}

// Requirement names one module.action pair.
type Requirement struct {
	Module string `json:"module"`
	Action string `json:"action"`
}

// AllOf reports whether every requirement is allowed.
func (p PermissionSet) AllOf(reqs ...Requirement) bool {
	for _, r := range reqs {
		if !p.Allows(r.Module, r.Action) {
			return false
		}
	}
	return true
}

// AnyOf reports whether at least one requirement is allowed.
func (p PermissionSet) AnyOf(reqs ...Requirement) bool {
	for _, r := range reqs {
		if p.Allows(r.Module, r.Action) {
			return true
		}
	}
	return false
}

// HasModuleAccess reports full access to module: "*" or "module.*".
// Module and action denies are not consulted here.
func (p PermissionSet) HasModuleAccess(module string) bool {
	if p.has(Rule{Kind: RuleGlobal}) && !p.has(Rule{Kind: RuleDenyGlobal}) {
		return true
	}
	return p.has(Rule{Kind: RuleModuleWildcard, Module: module})
}

// Strings returns the canonical permission strings in sorted order.
func (p PermissionSet) Strings() []string {
	out := make([]string, 0, len(p.rules))
	for r := range p.rules {
		out = append(out, r.String())
	}
	sort.Strings(out)
	return out
}

// Evaluate is the one-shot form of NewPermissionSet(perms).Allows(module, action).
func Evaluate(perms []string, module, action string) bool {
	return NewPermissionSet(perms).Allows(module, action)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
