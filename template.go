package polyel

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io/fs"
	pathpkg "path"
	"strings"
)

var errNoTemplateEngine = errors.New("polyel: 未配置模板引擎")

// TemplateEngine defines the contract for a template rendering system used to generate
// the body of view responses. Implementations are looked up by view name, which uses
// the "name:type" notation, e.g. "welcome:view" or "404:error".
type TemplateEngine interface {
	// Render takes the name of a view and the data object to be used in rendering, and
	// returns the rendered output, or an error if the rendering could not be completed.
	Render(ctx context.Context, templateName string, data any) ([]byte, error)
}

// ViewChecker is implemented by engines that can tell whether a view exists
// without rendering it. The error page logic uses it to fall back to plain text.
type ViewChecker interface {
	Exists(templateName string) bool
}

// ViewPath converts a view name in "name:type" notation into the relative file path
// it lives at. Dots in the name separate directories:
//
//	"welcome:view"        -> "views/welcome.view.html"
//	"common.header:view"  -> "views/common/header.view.html"
//	"404:error"           -> "errors/404.error.html"
//
// A name without a type is treated as a view.
func ViewPath(name string) string {
	resource, typ, ok := strings.Cut(name, ":")
	if !ok || typ == "" {
		typ = "view"
	}
	return typ + "s/" + strings.ReplaceAll(resource, ".", "/") + "." + typ + ".html"
}

// GoTemplateEngine implements TemplateEngine on top of html/template. Templates are
// parsed with their file path relative to the loaded root as their name, so view
// names are resolved through ViewPath before execution.
type GoTemplateEngine struct {
	// T holds every parsed template, keyed by its relative file path.
	T *template.Template
}

// Render executes the view named templateName with data.
func (g *GoTemplateEngine) Render(ctx context.Context, templateName string, data any) ([]byte, error) {
	if g.T == nil {
		return nil, errNoTemplateEngine
	}
	bs := &bytes.Buffer{}
	err := g.T.ExecuteTemplate(bs, g.lookupName(templateName), data)
	return bs.Bytes(), err
}

// Exists reports whether the view has been loaded.
func (g *GoTemplateEngine) Exists(templateName string) bool {
	if g.T == nil {
		return false
	}
	return g.T.Lookup(g.lookupName(templateName)) != nil
}

// lookupName 先尝试按原名查找，便于直接使用 define 定义的模板
func (g *GoTemplateEngine) lookupName(name string) string {
	if g.T.Lookup(name) != nil {
		return name
	}
	return ViewPath(name)
}

// LoadFromFS walks fsys and parses every file that matches one of the glob
// patterns. Each template is named after its path relative to the root of fsys,
// so "errors/404.error.html" is found for the view "404:error".
func (g *GoTemplateEngine) LoadFromFS(fsys fs.FS, patterns ...string) error {
	root := template.New("")
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !matchAny(path, patterns) {
			return nil
		}
		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		_, err = root.New(path).Parse(string(content))
		return err
	})
	if err != nil {
		return err
	}
	g.T = root
	return nil
}

// LoadFromGlob parses the files matching pattern; templates are named by base file name.
func (g *GoTemplateEngine) LoadFromGlob(pattern string) error {
	var err error
	g.T, err = template.ParseGlob(pattern)
	return err
}

func matchAny(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return strings.HasSuffix(path, ".html")
	}
	for _, p := range patterns {
		if ok, _ := fsMatch(p, path); ok {
			return true
		}
	}
	return false
}

// fsMatch 匹配完整路径，"**/" 前缀表示任意层级目录
func fsMatch(pattern, path string) (bool, error) {
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		base := path
		if i := strings.LastIndex(path, "/"); i >= 0 {
			base = path[i+1:]
		}
		return pathpkg.Match(rest, base)
	}
	return pathpkg.Match(pattern, path)
}
