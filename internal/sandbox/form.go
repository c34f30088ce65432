package sandbox

import (
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

// DownloadForm is the POST target recovered from a kwik download page.
type DownloadForm struct {
	Action string
	Token  string
}

var (
	formActionRe = regexp.MustCompile(`<form[^>]+action=["'](https?://[^"']+)["']`)
	tokenRe      = regexp.MustCompile(`name=["']_token["'][^>]*value=["']([^"']+)["']`)
	tokenRevRe   = regexp.MustCompile(`value=["']([^"']+)["'][^>]*name=["']_token["']`)
)

// ExtractDownloadForm recovers the download form's action URL and CSRF token
// from a kwik download page. The page's packed script writes the form into
// the DOM at runtime, so after a raw scan fails each eval-wrapped script is
// executed with a capturing jQuery stand-in and the injected markup is
// scanned instead. A nil result means no form was found.
func (e *Evaluator) ExtractDownloadForm(html string) *DownloadForm {
	if form := scanForm(html); form != nil {
		return form
	}

	for _, m := range scriptRe.FindAllStringSubmatch(html, -1) {
		script := m[1]
		if !strings.Contains(script, "eval(") {
			continue
		}
		if form := e.runFormSandbox(script); form != nil {
			return form
		}
	}
	return nil
}

func scanForm(markup string) *DownloadForm {
	action := formActionRe.FindStringSubmatch(markup)
	if action == nil {
		return nil
	}
	form := &DownloadForm{Action: action[1]}
	if tok := tokenRe.FindStringSubmatch(markup); tok != nil {
		form.Token = tok[1]
	} else if tok := tokenRevRe.FindStringSubmatch(markup); tok != nil {
		form.Token = tok[1]
	}
	return form
}

func (e *Evaluator) runFormSandbox(script string) *DownloadForm {
	vm := goja.New()

	var injected []string
	if err := vm.Set("__injectHTML", func(markup string) {
		injected = append(injected, markup)
	}); err != nil {
		return nil
	}

	if _, err := vm.RunString(prelude); err != nil {
		util.Debugf("sandbox prelude failed: %v", err)
		return nil
	}
	if _, err := vm.RunString(formPrelude); err != nil {
		util.Debugf("sandbox form prelude failed: %v", err)
		return nil
	}

	timer := time.AfterFunc(e.budget, func() {
		vm.Interrupt("execution budget exceeded")
	})
	if _, err := vm.RunString(script); err != nil {
		util.Debugf("sandbox script error (continuing): %v", err)
	}
	timer.Stop()
	vm.ClearInterrupt()

	for _, markup := range injected {
		if form := scanForm(markup); form != nil {
			return form
		}
	}
	return nil
}

// formPrelude layers a minimal jQuery over the base runtime. Every string
// handed to html/append/prepend flows into __injectHTML.
const formPrelude = `
function $(sel) {
    return {
        html: function(v) { if (typeof v === 'string') __injectHTML(v); return this; },
        append: function(v) { if (typeof v === 'string') __injectHTML(v); return this; },
        prepend: function(v) { if (typeof v === 'string') __injectHTML(v); return this; },
        attr: function() { return this; },
        on: function() { return this; },
        ready: function(fn) { if (typeof fn === 'function') { try { fn(); } catch (e) {} } return this; },
        text: function() { return this; },
        val: function() { return ''; }
    };
}
var jQuery = $;
`
