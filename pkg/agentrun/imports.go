package agentrun

import (
	"regexp"
	"strings"
)

var (
	importRe     = regexp.MustCompile(`^\s*import\s+([\w.]+)`)
	fromImportRe = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\b`)
)

// stdlibModules is a static list of CPython 3.x standard-library top-level
// package names, used to subtract built-ins from the extracted import set.
// Not exhaustive of every stdlib module ever added, but covers what an
// LLM-generated snippet is realistically going to import.
var stdlibModules = map[string]struct{}{
	"abc": {}, "argparse": {}, "array": {}, "ast": {}, "asyncio": {},
	"base64": {}, "bisect": {}, "builtins": {}, "bz2": {}, "calendar": {},
	"collections": {}, "configparser": {}, "contextlib": {}, "copy": {},
	"csv": {}, "dataclasses": {}, "datetime": {}, "decimal": {}, "difflib": {},
	"dis": {}, "email": {}, "enum": {}, "errno": {}, "fnmatch": {},
	"fractions": {}, "functools": {}, "gc": {}, "getpass": {}, "glob": {},
	"gzip": {}, "hashlib": {}, "heapq": {}, "hmac": {}, "html": {}, "http": {},
	"imghdr": {}, "importlib": {}, "inspect": {}, "io": {}, "ipaddress": {},
	"itertools": {}, "json": {}, "keyword": {}, "linecache": {}, "locale": {},
	"logging": {}, "math": {}, "mimetypes": {}, "numbers": {}, "operator": {},
	"os": {}, "pathlib": {}, "pickle": {}, "pprint": {}, "queue": {},
	"random": {}, "re": {}, "sched": {}, "secrets": {}, "shelve": {},
	"shutil": {}, "site": {}, "stat": {}, "statistics": {}, "string": {},
	"struct": {}, "sys": {}, "tempfile": {}, "textwrap": {}, "time": {},
	"timeit": {}, "token": {}, "tokenize": {}, "traceback": {}, "types": {},
	"typing": {}, "unicodedata": {}, "unittest": {}, "urllib": {}, "uuid": {},
	"warnings": {}, "weakref": {}, "xml": {}, "zipfile": {}, "zlib": {},
	"__future__": {},
}

// extractImports enumerates the set of third-party top-level module names
// imported by source. It is pure with respect to source: no filesystem or
// network access. If source contains nothing resembling an import, the
// result is an empty set — a syntax error, if any, surfaces later from the
// interpreter itself, not from this pass.
func extractImports(source string) []string {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(source, "\n") {
		var module string
		if m := importRe.FindStringSubmatch(line); m != nil {
			module = m[1]
		} else if m := fromImportRe.FindStringSubmatch(line); m != nil {
			module = m[1]
		} else {
			continue
		}

		top := module
		if idx := strings.Index(module, "."); idx >= 0 {
			top = module[:idx]
		}
		if _, stdlib := stdlibModules[top]; stdlib {
			continue
		}
		seen[top] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for mod := range seen {
		out = append(out, mod)
	}
	return out
}
