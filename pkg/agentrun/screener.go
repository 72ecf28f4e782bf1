package agentrun

import (
	"fmt"
	"regexp"
)

// screenRule is one lexical/pattern-based rejection rule. Pattern is
// compiled once at package init.
type screenRule struct {
	name    string
	pattern *regexp.Regexp
	reason  string
}

// screenRules is the blocklist. Each entry is covered by an individual test.
// Completeness against a determined attacker is explicitly not the goal —
// the container is the real sandbox; this is defense-in-depth against the
// most common foot-guns.
var screenRules = []screenRule{
	{"os_system", regexp.MustCompile(`os\.system`), "use of os.system is not allowed"},
	{"subprocess", regexp.MustCompile(`subprocess\.`), "use of the subprocess module is not allowed"},
	{"eval", regexp.MustCompile(`eval\(`), "use of eval() is not allowed"},
	{"exec_call", regexp.MustCompile(`exec\(`), "use of exec() is not allowed"},
	{"open_call", regexp.MustCompile(`open\(`), "use of open() is not allowed"},
	{"dunder_import", regexp.MustCompile(`__import__`), "use of __import__ is not allowed"},
	{"importlib", regexp.MustCompile(`importlib`), "use of importlib is not allowed"},
	{"sys_modules", regexp.MustCompile(`sys\.modules`), "access to sys.modules is not allowed"},
	{"globals", regexp.MustCompile(`globals\(\)`), "use of globals() is not allowed"},
	{"locals", regexp.MustCompile(`locals\(\)`), "use of locals() is not allowed"},
	{"delattr", regexp.MustCompile(`delattr`), "use of delattr is not allowed"},
	{"setattr", regexp.MustCompile(`setattr`), "use of setattr is not allowed"},
	{"compile_call", regexp.MustCompile(`compile\(`), "use of compile() is not allowed"},
	{"dunder_attr", regexp.MustCompile(`\.__(class|bases|subclasses|mro|globals|builtins|import|loader|spec|code|closure|getattribute|reduce|reduce_ex|dict)__`), "access to sandbox-escape dunder attributes is not allowed"},
	{"shell_rm_rf", regexp.MustCompile(`rm\s+-rf`), "shell-destructive string literal is not allowed"},
	{"fork", regexp.MustCompile(`\bfork\(`), "use of fork() is not allowed"},
	{"kill", regexp.MustCompile(`\bkill\(`), "use of kill() is not allowed"},

	{"import_subprocess", regexp.MustCompile(`(^|\n)\s*(import\s+subprocess|from\s+subprocess\s+import)`), "importing subprocess is not allowed"},
	{"import_socket", regexp.MustCompile(`(^|\n)\s*(import\s+socket|from\s+socket\s+import)`), "importing socket is not allowed"},
	{"import_ctypes", regexp.MustCompile(`(^|\n)\s*(import\s+ctypes|from\s+ctypes\s+import)`), "importing ctypes is not allowed"},
	{"import_multiprocessing", regexp.MustCompile(`(^|\n)\s*(import\s+multiprocessing|from\s+multiprocessing\s+import)`), "importing multiprocessing is not allowed"},
	{"import_threading", regexp.MustCompile(`(^|\n)\s*(import\s+threading|from\s+threading\s+import)`), "importing threading is not allowed"},
	{"import__thread", regexp.MustCompile(`(^|\n)\s*(import\s+_thread|from\s+_thread\s+import)`), "importing _thread is not allowed"},
	{"import_pty", regexp.MustCompile(`(^|\n)\s*(import\s+pty|from\s+pty\s+import)`), "importing pty is not allowed"},
	{"import_resource", regexp.MustCompile(`(^|\n)\s*(import\s+resource|from\s+resource\s+import)`), "importing resource is not allowed"},
	{"import_signal", regexp.MustCompile(`(^|\n)\s*(import\s+signal|from\s+signal\s+import)`), "importing signal is not allowed"},

	// Go's regexp has no lookahead, so "any quoted absolute path not under
	// /tmp/" is spelled out one prefix of "tmp/" at a time.
	{"absolute_path_literal", regexp.MustCompile(`['"]/([^t'"][^'"]*|t([^m'"][^'"]*)?|tm([^p'"][^'"]*)?|tmp([^/'"][^'"]*)?)?['"]`), "literal path outside /tmp is not allowed"},
}

// screen performs the lexical safety check described by the Safety
// Screener. It returns ("", true) when the source is safe, or a descriptive
// unsafe-code reason and false otherwise. It never touches the container.
func screen(source string) (reason string, ok bool) {
	for _, rule := range screenRules {
		if rule.pattern.MatchString(source) {
			return fmt.Sprintf("Unsafe code detected: %s", rule.reason), false
		}
	}
	return "", true
}
