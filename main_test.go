package main

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/die-net/sslocal/internal/config"
)

func TestOverrideFromFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	data := []byte("server: ss.example.com\nserver_port: 8388\npassword: from-file\nmethod: aes-256-gcm\nudp: true\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := config.Default()
	fs.StringVarP(&f.Password, "password", "k", "", "")
	fs.StringVarP(&f.Method, "method", "m", f.Method, "")
	fs.DurationVar(&f.DialTimeout, "dial-timeout", f.DialTimeout, "")
	if err := fs.Parse([]string{"-k", "from-flag", "--dial-timeout", "3s"}); err != nil {
		t.Fatal(err)
	}

	overrideFromFlags(fs, p, f)

	if p.Password != "from-flag" {
		t.Errorf("password %q", p.Password)
	}
	if p.DialTimeout != 3*time.Second {
		t.Errorf("dial timeout %s", p.DialTimeout)
	}
	// Flags left at their defaults do not clobber the file.
	if p.Method != "aes-256-gcm" {
		t.Errorf("method %q", p.Method)
	}
	if p.RemoteHost != "ss.example.com" || !p.UDP {
		t.Errorf("file values lost: %+v", p)
	}
}

func TestNewLogger(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		logger, err := newLogger(verbose)
		if err != nil {
			t.Fatal(err)
		}
		if got := logger.Core().Enabled(zap.DebugLevel); got != verbose {
			t.Errorf("verbose=%v debug enabled=%v", verbose, got)
		}
	}
}

func TestPackageDocs(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("internal", "*", "doc.go"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no package docs found")
	}

	fset := token.NewFileSet()
	for _, path := range paths {
		f, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			t.Fatal(err)
		}
		if want := filepath.Base(filepath.Dir(path)); f.Name.Name != want {
			t.Errorf("%s: package %s, want %s", path, f.Name.Name, want)
		}
		if f.Doc == nil || !strings.HasPrefix(f.Doc.Text(), "Package "+f.Name.Name+" ") {
			t.Errorf("%s: missing package comment", path)
		}
	}
}
