package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// dynamicImports lists the packages an interpreted tool file may import.
// Filesystem, network, process, and unsafe access stay out.
var dynamicImports = map[string]bool{
	"bytes":           true,
	"encoding/base64": true,
	"encoding/json":   true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,
}

// LoadDir interprets every .go file in dir and registers each one as a
// local capability. A tool file must define
//
//	func Run(args map[string]any) (any, error)
//
// and may define Spec, a JSON string unmarshalled into the capability
// descriptor (name, description, parameters, required). Without a Spec,
// or when the Spec omits a name, the file's base name is used. Files
// that fail to load are logged and skipped; the returned count covers
// registrations only. A missing dir is not an error.
func LoadDir(ctx context.Context, dir string, reg *Registry, log *logging.Logger) (int, error) {
	if log == nil {
		log = logging.Nop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading tool dir: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		c, err := loadDynamic(filepath.Join(dir, name))
		if err != nil {
			log.Warn(ctx, "dynamic tool rejected",
				zap.String("file", name), zap.Error(err))
			continue
		}
		if !reg.Register(c) {
			continue
		}
		log.Info(ctx, "dynamic tool loaded",
			zap.String("capability", c.Name), zap.String("file", name))
		loaded++
	}
	return loaded, nil
}

func loadDynamic(path string) (*Capability, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pkg, imports, err := inspectSource(path, src)
	if err != nil {
		return nil, fmt.Errorf("parsing source: %w", err)
	}
	for _, imp := range imports {
		if !dynamicImports[imp] {
			return nil, fmt.Errorf("import %q not allowed", imp)
		}
	}

	// Each file gets its own interpreter so tools cannot see each
	// other's symbols. The declared-import check above is the safety
	// boundary; the interpreter itself carries full stdlib symbols.
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading interpreter symbols: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("evaluating source: %w", err)
	}

	runVal, err := i.Eval(pkg + ".Run")
	if err != nil {
		return nil, fmt.Errorf("Run not defined: %w", err)
	}
	run, ok := runVal.Interface().(func(map[string]any) (any, error))
	if !ok {
		return nil, fmt.Errorf("Run must be func(args map[string]any) (any, error)")
	}

	desc := Descriptor{Name: strings.TrimSuffix(filepath.Base(path), ".go")}
	if specVal, err := i.Eval(pkg + ".Spec"); err == nil {
		s, ok := specVal.Interface().(string)
		if !ok {
			return nil, fmt.Errorf("Spec must be a string")
		}
		if err := json.Unmarshal([]byte(s), &desc); err != nil {
			return nil, fmt.Errorf("parsing Spec: %w", err)
		}
		if desc.Name == "" {
			desc.Name = strings.TrimSuffix(filepath.Base(path), ".go")
		}
	}

	return NewLocal(desc, interpretedHandler(run)), nil
}

// inspectSource parses just enough of the file to learn its package
// name and declared imports.
func inspectSource(path string, src []byte) (string, []string, error) {
	f, err := parser.ParseFile(token.NewFileSet(), path, src, parser.ImportsOnly)
	if err != nil {
		return "", nil, err
	}
	imports := make([]string, 0, len(f.Imports))
	for _, imp := range f.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, `"`))
	}
	return f.Name.Name, imports, nil
}

// interpretedHandler bridges an interpreted Run function into the local
// handler contract. The interpreted code cannot observe ctx, so
// cancellation abandons the call rather than stopping it. Yaegi
// interpreters are not safe for concurrent use, so calls to one tool
// serialize.
func interpretedHandler(run func(map[string]any) (any, error)) Handler {
	var mu sync.Mutex
	type outcome struct {
		result any
		err    error
	}
	return func(ctx context.Context, args map[string]any) (any, error) {
		done := make(chan outcome, 1)
		go func() {
			mu.Lock()
			defer mu.Unlock()
			defer func() {
				if r := recover(); r != nil {
					done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
				}
			}()
			result, err := run(args)
			done <- outcome{result: result, err: err}
		}()
		select {
		case out := <-done:
			return out.result, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
