package sandbox

import (
	"strings"
	"time"
)

// Policy defines how the sandbox launches code.
type Policy struct {
	Interpreter    string        // Interpreter binary, resolved from PATH (e.g. "python3")
	Timeout        time.Duration // Wall-clock limit per execution
	WorkDir        string        // Parent of per-run workspaces; empty means the OS temp dir
	ScriptName     string        // File name of the generated script inside a workspace
	LanguagePrefix string        // Accepted language identifiers start with this, case-insensitively
}

// DefaultPolicy returns the defaults used by the HTTP service.
func DefaultPolicy() Policy {
	return Policy{
		Interpreter:    "python3",
		Timeout:        10 * time.Second,
		ScriptName:     "script.py",
		LanguagePrefix: "python",
	}
}

// IsLanguageAllowed checks a request's language identifier against the policy.
// "Python3", "python" and "python-3.12" all pass; "py" and "" do not.
func (p Policy) IsLanguageAllowed(language string) bool {
	return strings.HasPrefix(strings.ToLower(language), strings.ToLower(p.LanguagePrefix))
}

// CheckLanguage returns an UnsupportedLanguage error when the language is rejected.
func (p Policy) CheckLanguage(language string) error {
	if !p.IsLanguageAllowed(language) {
		return &Error{Kind: KindUnsupportedLanguage, Msg: "unsupported language " + quote(language)}
	}
	return nil
}
