// Package safety evaluates shell command lines before they reach
// execute_command or bash, per spec.md §4.10. Grounded on
// internal/tools/security/shell_parser.go's dangerous-token scanning,
// reduced from a full token-position report to the spec's simpler
// allowlist-short-circuit-then-denylist-scan decision.
package safety

import "strings"

// shellOperators are the metacharacters that disqualify a command from the
// allowlist short-circuit — their presence means the command line isn't a
// single safe invocation, whatever its prefix looks like.
var shellOperators = []string{"|", ">", ";", "&&", "||", "$(", "`"}

// safePrefixes are case-insensitively matched against the start of a
// command line with no shell operators present.
var safePrefixes = []string{
	"ls", "pwd", "echo", "cat", "git status", "git diff", "git log",
	"cargo test", "cargo build", "cargo check", "grep", "find", "head",
	"tail", "wc", "which", "whoami", "date", "env", "go test", "go build",
	"go vet", "npm test", "npm run", "ps", "df", "du",
}

// denylist entries are matched as case-insensitive substrings anywhere in
// the command line. Order matters only for which Reason is reported first.
var denylist = []struct {
	substr string
	reason string
}{
	{"rm -rf /", "recursively removes the root filesystem"},
	{"rm -rf ~", "recursively removes the home directory"},
	{":(){ :|:& };:", "fork bomb"},
	{"| sh", "pipes untrusted output into a shell"},
	{"| bash", "pipes untrusted output into a shell"},
	{"dd if=", "raw disk write via dd"},
	{"mkfs", "formats a filesystem"},
	{"> /dev/sda", "overwrites a raw block device"},
	{"> /dev/null; rm", "obfuscated destructive redirect"},
	{"chmod 777 /", "world-writable permissions on the root filesystem"},
	{"chmod -r 777", "recursive world-writable permission change"},
	{"chown -r", "recursive ownership change"},
	{"chown . /", "ownership change on the root filesystem"},
	{"shutdown", "shuts down the host"},
	{"reboot", "reboots the host"},
	{"halt", "halts the host"},
	{"kill -9 1", "kills PID 1"},
	{"> /etc/", "overwrites system configuration"},
	{"__import__('os')", "shells out from an embedded interpreter"},
	{"sudo", "privilege escalation"},
	{"curl | sh", "pipes a remote script into a shell"},
	{"wget | sh", "pipes a remote script into a shell"},
	{":(){:|:&};:", "fork bomb (unspaced)"},
}

// Verdict is the outcome of checking a command line.
type Verdict struct {
	Allowed bool
	Reason  string // populated only when Allowed is false
}

// CheckCommand evaluates cmdLine against the allowlist short-circuit and
// the denylist scan, in that order.
func CheckCommand(cmdLine string) Verdict {
	trimmed := strings.TrimSpace(cmdLine)
	if trimmed == "" {
		return Verdict{Allowed: true}
	}

	if !hasShellOperator(trimmed) && hasSafePrefix(trimmed) {
		return Verdict{Allowed: true}
	}

	lower := strings.ToLower(trimmed)
	for _, entry := range denylist {
		if strings.Contains(lower, entry.substr) {
			return Verdict{Allowed: false, Reason: entry.reason}
		}
	}
	return Verdict{Allowed: true}
}

func hasShellOperator(cmdLine string) bool {
	for _, op := range shellOperators {
		if strings.Contains(cmdLine, op) {
			return true
		}
	}
	return false
}

func hasSafePrefix(cmdLine string) bool {
	lower := strings.ToLower(cmdLine)
	for _, prefix := range safePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
