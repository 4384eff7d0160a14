package rules

import "github.com/lemayian23/code-review-ai/internal/types"

// DefaultPatterns returns the built-in pattern set. Base weights reflect
// how often each signal survives human review before any feedback has
// been collected.
func DefaultPatterns() []types.Pattern {
	return []types.Pattern{
		{
			ID:         "hardcoded-credential",
			Name:       "Hardcoded credential",
			Expr:       `(?i)(password|passwd|secret|api[_-]?key|token)\s*(?::=|[:=])\s*["'][^"']{4,}["']`,
			Message:    "Possible hardcoded credential",
			Suggestion: "Load secrets from the environment or a secret manager instead of source",
			Category:   "security",
			Severity:   types.SeverityHigh,
			BaseWeight: 0.9,
			Active:     true,
		},
		{
			ID:         "sql-string-concat",
			Name:       "SQL built by string formatting",
			Expr:       `(?i)(Sprintf|Sprint|\+)\s*\(?[^)]*(SELECT|INSERT|UPDATE|DELETE)\s`,
			Message:    "SQL statement assembled from formatted strings",
			Suggestion: "Use parameterized queries with placeholder arguments",
			Category:   "security",
			Severity:   types.SeverityCritical,
			BaseWeight: 0.8,
			Active:     true,
		},
		{
			ID:         "weak-hash",
			Name:       "Weak hash algorithm",
			Expr:       `\b(md5|sha1)\.(New|Sum)`,
			Message:    "MD5 and SHA-1 are unsuitable for security-sensitive hashing",
			Suggestion: "Use sha256 or a dedicated password hash such as bcrypt",
			Category:   "security",
			Severity:   types.SeverityHigh,
			BaseWeight: 0.85,
			Active:     true,
		},
		{
			ID:         "tls-verify-disabled",
			Name:       "TLS verification disabled",
			Expr:       `InsecureSkipVerify\s*:\s*true`,
			Message:    "TLS certificate verification is disabled",
			Suggestion: "Remove InsecureSkipVerify or gate it behind an explicit development flag",
			Category:   "security",
			Severity:   types.SeverityHigh,
			BaseWeight: 0.95,
			Active:     true,
		},
		{
			ID:         "discarded-error",
			Name:       "Discarded error value",
			Expr:       `(?:^|\s)_\s*(?:,\s*\w+)?\s*[:=]?=\s*\w+[\w.]*\(|\berr\s*=\s*nil\s*$`,
			Message:    "Error value is discarded",
			Suggestion: "Handle the error or document why it is safe to ignore",
			Category:   "correctness",
			Severity:   types.SeverityMedium,
			BaseWeight: 0.55,
			Active:     true,
		},
		{
			ID:         "panic-in-handler",
			Name:       "Panic in request path",
			Expr:       `\bpanic\(`,
			Message:    "Explicit panic in production code path",
			Suggestion: "Return an error instead of panicking outside of init-time invariants",
			Category:   "correctness",
			Severity:   types.SeverityMedium,
			BaseWeight: 0.6,
			Active:     true,
		},
		{
			ID:         "deep-nesting",
			Name:       "Deeply nested block",
			Expr:       `^\t{4,}\S|^ {16,}\S`,
			Message:    "Block nested four or more levels deep",
			Suggestion: "Extract a helper or invert the condition with an early return",
			Category:   "maintainability",
			Severity:   types.SeverityMedium,
			BaseWeight: 0.7,
			Active:     true,
		},
		{
			ID:         "magic-number",
			Name:       "Unexplained numeric literal",
			Expr:       `(?:[=<>(,+\-*/]\s*)\d{4,}\b`,
			Message:    "Large numeric literal without a named constant",
			Suggestion: "Name the constant to document its meaning",
			Category:   "maintainability",
			Severity:   types.SeverityLow,
			BaseWeight: 0.5,
			Active:     true,
		},
		{
			ID:         "todo-marker",
			Name:       "Unresolved work marker",
			Expr:       `(?i)//\s*(TODO|FIXME|HACK|XXX)\b`,
			Message:    "Work marker committed with the change",
			Suggestion: "File an issue and reference it, or resolve before merging",
			Category:   "maintainability",
			Severity:   types.SeverityLow,
			BaseWeight: 0.6,
			Active:     true,
		},
		{
			ID:         "unbounded-goroutine",
			Name:       "Goroutine without lifecycle control",
			Expr:       `go\s+func\(\)\s*\{`,
			Message:    "Anonymous goroutine started without visible cancellation or join",
			Suggestion: "Tie the goroutine to a context or wait group so it cannot leak",
			Category:   "concurrency",
			Severity:   types.SeverityMedium,
			BaseWeight: 0.45,
			Active:     true,
		},
	}
}
