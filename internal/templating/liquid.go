package templating

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// LiquidEngine renders Liquid templates and caches parsed templates by
// key and content hash, so an overwritten template is never served stale.
type LiquidEngine struct {
	engine *liquid.Engine
	strict *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewLiquidEngine creates an engine with the custom filters registered.
func NewLiquidEngine() *LiquidEngine {
	le := &LiquidEngine{
		engine: liquid.NewEngine(),
		strict: liquid.NewEngine(),
	}
	le.strict.StrictVariables()
	registerFilters(le.engine)
	registerFilters(le.strict)
	return le
}

func registerFilters(e *liquid.Engine) {
	// {{ first_name | default: "Friend" }}
	e.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	e.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	e.RegisterFilter("truncate", func(s string, length int) string {
		r := []rune(s)
		if len(r) <= length {
			return s
		}
		if length <= 3 {
			return string(r[:length])
		}
		return string(r[:length-3]) + "..."
	})

	e.RegisterFilter("urlencode", url.QueryEscape)
	e.RegisterFilter("escape", html.EscapeString)

	// {{ total | currency }} -> $12.50
	e.RegisterFilter("currency", func(value interface{}) string {
		var f float64
		switch v := value.(type) {
		case float64:
			f = v
		case int:
			f = float64(v)
		case int64:
			f = float64(v)
		case string:
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return v
			}
			f = parsed
		default:
			return fmt.Sprintf("%v", value)
		}
		return fmt.Sprintf("$%.2f", f)
	})
}

// Compile parses src and reports syntax errors.
func (le *LiquidEngine) Compile(src string) error {
	if _, err := le.engine.ParseString(src); err != nil {
		return err
	}
	return nil
}

// Render renders src with vars. Missing variables render as empty.
func (le *LiquidEngine) Render(cacheKey, src string, vars map[string]string) (string, error) {
	tpl, err := le.parse(cacheKey, src)
	if err != nil {
		return "", err
	}
	out, rerr := tpl.RenderString(bindings(vars))
	if rerr != nil {
		return "", rerr
	}
	return out, nil
}

// RenderStrict fails on any variable the bindings do not define.
func (le *LiquidEngine) RenderStrict(src string, vars map[string]string) (string, error) {
	out, err := le.strict.ParseAndRenderString(src, bindings(vars))
	if err != nil {
		return "", err
	}
	return out, nil
}

func (le *LiquidEngine) parse(cacheKey, src string) (*liquid.Template, error) {
	key := ""
	if cacheKey != "" {
		sum := sha256.Sum256([]byte(src))
		key = cacheKey + ":" + hex.EncodeToString(sum[:8])
		if cached, ok := le.cache.Load(key); ok {
			return cached.(*liquid.Template), nil
		}
	}
	tpl, err := le.engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	if key != "" {
		le.cache.Store(key, tpl)
	}
	return tpl, nil
}

// Forget drops every cached parse for a template name.
func (le *LiquidEngine) Forget(cacheKey string) {
	prefix := cacheKey + ":"
	le.cache.Range(func(k, _ interface{}) bool {
		if strings.HasPrefix(k.(string), prefix) {
			le.cache.Delete(k)
		}
		return true
	})
}

func bindings(vars map[string]string) liquid.Bindings {
	b := make(liquid.Bindings, len(vars))
	for k, v := range vars {
		b[k] = v
	}
	return b
}

var (
	liquidOutputRe = regexp.MustCompile(`\{\{-?\s*([A-Za-z_]\w*)`)
	liquidTagRe    = regexp.MustCompile(`\{%-?\s*(?:if|unless|elsif|case|when)\s+([A-Za-z_]\w*)`)
	liquidLoopRe   = regexp.MustCompile(`\{%-?\s*for\s+(\w+)\s+in\s+([A-Za-z_]\w*)`)
)

var liquidKeywords = map[string]bool{
	"true": true, "false": true, "nil": true, "null": true, "empty": true, "blank": true, "forloop": true,
}

// LiquidVariables lists the top-level variables a Liquid template reads.
// Loop variables are excluded.
func LiquidVariables(src string) []string {
	loopVars := map[string]bool{}
	seen := map[string]struct{}{}
	for _, m := range liquidLoopRe.FindAllStringSubmatch(src, -1) {
		loopVars[m[1]] = true
		seen[m[2]] = struct{}{}
	}
	for _, re := range []*regexp.Regexp{liquidOutputRe, liquidTagRe} {
		for _, m := range re.FindAllStringSubmatch(src, -1) {
			if !liquidKeywords[m[1]] && !loopVars[m[1]] {
				seen[m[1]] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
