// Package sandbox executes the obfuscated player scripts found on kwik embed
// pages inside an isolated goja runtime to surface the HLS manifest URL.
//
// The runtime is seeded with just enough of a browser to let the packed
// script unwrap itself: a document stand-in holding one video element, stub
// constructors for the two player libraries the site uses (Plyr and Hls),
// and no-op timers/storage/network globals. Nothing in the runtime can reach
// the host process; scripts that throw are simply skipped.
package sandbox

import (
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

// Result is a recovered streaming source.
type Result struct {
	URL    string
	IsM3U8 bool
}

var (
	scriptRe   = regexp.MustCompile(`(?is)<script[^>]*>(.*?)</script>`)
	manifestRe = regexp.MustCompile(`https://[^'"\s\\]+?\.m3u8[^'"\s\\]*`)
	dataSrcRe  = regexp.MustCompile(`data-src=["'](https://[^'"\s]+?\.m3u8[^'"\s]*)["']`)
)

// Evaluator runs untrusted embed-page scripts under a wall-clock budget.
type Evaluator struct {
	budget time.Duration
}

// New returns an Evaluator with the given per-script execution budget. A zero
// budget defaults to two seconds.
func New(budget time.Duration) *Evaluator {
	if budget <= 0 {
		budget = 2 * time.Second
	}
	return &Evaluator{budget: budget}
}

// ExtractManifest scans the embed page HTML for a manifest URL. It tries, per
// inline script block: a raw regex match, then sandboxed execution for
// eval-wrapped payloads. When every block is exhausted it falls back to a
// data-src attribute scan. A nil result means not found; it never errors.
func (e *Evaluator) ExtractManifest(html string) *Result {
	for _, m := range scriptRe.FindAllStringSubmatch(html, -1) {
		script := m[1]
		if strings.TrimSpace(script) == "" {
			continue
		}

		// Fast path: unobfuscated scripts carry the URL in plain text.
		if url := manifestRe.FindString(script); url != "" {
			return resultFrom(url)
		}

		if !strings.Contains(script, "eval(") {
			continue
		}

		if url := e.runSandboxed(script); url != "" {
			return resultFrom(url)
		}
	}

	if m := dataSrcRe.FindStringSubmatch(html); m != nil {
		return resultFrom(m[1])
	}

	return nil
}

func resultFrom(url string) *Result {
	return &Result{URL: url, IsM3U8: strings.Contains(url, ".m3u8")}
}

// runSandboxed executes one script block in a fresh runtime and consults, in
// order: the player-stub capture set, the video element's src, a serialized
// dump of the global context, and the raw script text once more.
func (e *Evaluator) runSandboxed(script string) string {
	vm := goja.New()

	var captured []string
	if err := vm.Set("__capture", func(u string) {
		if strings.HasPrefix(u, "http") {
			captured = append(captured, u)
		}
	}); err != nil {
		return ""
	}

	if _, err := vm.RunString(prelude); err != nil {
		util.Debugf("sandbox prelude failed: %v", err)
		return ""
	}

	timer := time.AfterFunc(e.budget, func() {
		vm.Interrupt("execution budget exceeded")
	})

	// Obfuscated scripts routinely throw once they hit a stub API that does
	// not match the real browser; that is expected and non-fatal.
	if _, err := vm.RunString(script); err != nil {
		util.Debugf("sandbox script error (continuing): %v", err)
	}
	timer.Stop()
	vm.ClearInterrupt()

	for _, u := range captured {
		if url := manifestRe.FindString(u); url != "" {
			return url
		}
	}
	if len(captured) > 0 {
		return captured[0]
	}

	if v, err := vm.RunString(`__video && __video.src`); err == nil {
		if src, ok := v.Export().(string); ok && strings.HasPrefix(src, "http") {
			return src
		}
	}

	if v, err := vm.RunString(contextDump); err == nil {
		if dump, ok := v.Export().(string); ok {
			if url := manifestRe.FindString(dump); url != "" {
				return strings.ReplaceAll(url, `\/`, "/")
			}
		}
	}

	return manifestRe.FindString(script)
}

// prelude seeds the runtime before the untrusted script runs. The stubs feed
// every URL they see into __capture.
const prelude = `
var __video = { src: '', attributes: {}, setAttribute: function(n, v) { this.attributes[n] = v; if (n === 'src' || n === 'data-src') { this.src = v; __capture(String(v)); } }, getAttribute: function(n) { return this.attributes[n]; }, addEventListener: function() {}, play: function() {}, load: function() {} };

Object.defineProperty(__video, 'currentSrc', { get: function() { return this.src; } });

var document = {
    getElementById: function() { return __video; },
    querySelector: function() { return __video; },
    querySelectorAll: function() { return [__video]; },
    getElementsByTagName: function() { return [__video]; },
    createElement: function() { return { style: {}, setAttribute: function() {}, appendChild: function() {} }; },
    addEventListener: function() {},
    body: { appendChild: function() {}, textContent: '' },
    cookie: ''
};

function Plyr(target, options) {
    this.options = options || {};
    var src = options && options.source;
    if (src) {
        var list = src.sources || [];
        for (var i = 0; i < list.length; i++) { if (list[i] && list[i].src) __capture(String(list[i].src)); }
        if (typeof src === 'string') __capture(src);
    }
}
Plyr.prototype.on = function() {};
Plyr.prototype.play = function() {};

function Hls(config) { this.config = config || {}; }
Hls.isSupported = function() { return true; };
Hls.prototype.loadSource = function(url) { __capture(String(url)); };
Hls.prototype.attachMedia = function(el) { if (el && el.src) __capture(String(el.src)); };
Hls.prototype.on = function() {};
Hls.Events = { MANIFEST_PARSED: 'hlsManifestParsed' };

var window = this;
window.document = document;
var navigator = { userAgent: 'Mozilla/5.0', platform: 'Win32', languages: ['en-US', 'en'] };
var location = { href: '', protocol: 'https:', hostname: '' };
var screen = { width: 1920, height: 1080 };

function setTimeout() { return 0; }
function setInterval() { return 0; }
function clearTimeout() {}
function clearInterval() {}
var localStorage = { getItem: function() { return null; }, setItem: function() {}, removeItem: function() {} };
var sessionStorage = localStorage;
function XMLHttpRequest() { this.open = function() {}; this.send = function() {}; this.setRequestHeader = function() {}; }
function fetch() { return { then: function() { return this; }, 'catch': function() { return this; } }; }
var console = { log: function() {}, warn: function() {}, error: function() {}, info: function() {} };
`

// contextDump serializes every enumerable global so a manifest URL stashed in
// an intermediate variable can still be found by pattern match.
const contextDump = `(function() {
    var out = [];
    for (var k in this) {
        try { out.push(JSON.stringify(this[k])); } catch (e) {}
    }
    return out.join('\n');
}).call(this)`
