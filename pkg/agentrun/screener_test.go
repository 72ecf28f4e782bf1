package agentrun

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScreen_EachBlocklistEntryRejects(t *testing.T) {
	samples := map[string]string{
		"os_system":               "os.system('ls')",
		"subprocess":               "subprocess.run(['ls'])",
		"eval":                     "eval('1+1')",
		"exec_call":                "exec('print(1)')",
		"open_call":                "open('/etc/passwd')",
		"dunder_import":            "__import__('os')",
		"importlib":                "importlib.import_module('os')",
		"sys_modules":              "print(sys.modules)",
		"globals":                  "print(globals())",
		"locals":                   "print(locals())",
		"delattr":                  "delattr(obj, 'x')",
		"setattr":                  "setattr(obj, 'x', 1)",
		"compile_call":             "compile('1+1', '<s>', 'eval')",
		"dunder_attr":              "obj.__class__.__bases__",
		"shell_rm_rf":              "cmd = 'rm -rf /'",
		"fork":                     "os.fork()",
		"kill":                     "os.kill(1, 9)",
		"import_subprocess":        "import subprocess\n",
		"import_socket":            "import socket\n",
		"import_ctypes":            "import ctypes\n",
		"import_multiprocessing":   "import multiprocessing\n",
		"import_threading":         "import threading\n",
		"import__thread":           "import _thread\n",
		"import_pty":               "import pty\n",
		"import_resource":          "import resource\n",
		"import_signal":            "import signal\n",
		"absolute_path_literal":    "path = '/etc/shadow'",
	}

	for name, source := range samples {
		t.Run(name, func(t *testing.T) {
			reason, ok := screen(source)
			assert.False(t, ok, "expected %q to be rejected", name)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestScreen_AllowsBenignCode(t *testing.T) {
	ok_sources := []string{
		"print('hello, world!')",
		"print(12345 * 54321)",
		"import requests\nprint(requests.__name__)",
		"1/0",
	}
	for i, source := range ok_sources {
		t.Run(fmt.Sprintf("sample_%d", i), func(t *testing.T) {
			reason, ok := screen(source)
			assert.True(t, ok, "expected source to be allowed, got rejection: %s", reason)
		})
	}
}

func TestScreen_ScenarioB_OsSystemRmRf(t *testing.T) {
	reason, ok := screen("import os\nos.system('rm -rf /')")
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}
