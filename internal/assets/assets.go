// Package assets renders the HTML pages served by the local solving server.
// Every page goes through html/template so sitekeys and session ids taken
// from query strings are escaped for their context.
package assets

import (
	"bytes"
	"html"
	"html/template"
	"regexp"
)

// TestSitekey is Cloudflare's always-passing visible demo key.
const TestSitekey = "1x00000000000000000000AA"

// TurnstileScriptURL is the widget loader.
const TurnstileScriptURL = "https://challenges.cloudflare.com/turnstile/v0/api.js"

// Only allows alphanumeric characters, dots, dashes, underscores, and plus signs.
var versionSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.\-_+]`)

// SanitizeVersion strips anything unexpected from a build-time version string.
// Returns "unknown" if the result is empty after sanitization.
func SanitizeVersion(version string) string {
	sanitized := versionSanitizer.ReplaceAllString(html.EscapeString(version), "")
	if sanitized == "" {
		return "unknown"
	}
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}

// SolvePageData fills the solving page.
type SolvePageData struct {
	SessionID string
	Sitekey   string
	TargetURL string
	Action    string
	CData     string
}

// IndexPageData fills the documentation page.
type IndexPageData struct {
	Version  string
	Sessions int
	BaseURL  string
}

var (
	solvePageTemplate = template.Must(template.New("solve").Parse(solvePageHTML))
	testPageTemplate  = template.Must(template.New("test").Parse(testPageHTML))
	indexPageTemplate = template.Must(template.New("index").Parse(indexPageHTML))
)

// RenderSolvePage renders a page embedding only data.Sitekey. The page posts
// the widget's token to /token once, tagged with data.SessionID.
func RenderSolvePage(data SolvePageData) ([]byte, error) {
	return render(solvePageTemplate, data)
}

// RenderTestPage renders the self-diagnosis page using TestSitekey.
func RenderTestPage() ([]byte, error) {
	return render(testPageTemplate, struct{ Sitekey string }{TestSitekey})
}

// RenderIndexPage renders the route documentation page.
func RenderIndexPage(data IndexPageData) ([]byte, error) {
	data.Version = SanitizeVersion(data.Version)
	return render(indexPageTemplate, data)
}

func render(t *template.Template, data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const pageStyle = `
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #f4f5f7;
            color: #222;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
        }
        .container {
            background: #fff;
            padding: 2rem;
            border-radius: 12px;
            box-shadow: 0 8px 24px rgba(0,0,0,0.08);
            max-width: 560px;
            width: 90%;
        }
        .status { margin-top: 1.5rem; padding: 0.75rem; border-radius: 8px; background: #eef; }
        .status.success { background: #e6f9ee; color: #137a3b; }
        .status.error { background: #fdecec; color: #a11; }
        code { background: #eee; padding: 2px 4px; border-radius: 3px; }
        .endpoint { background: #f4f4f4; padding: 0.6rem; margin: 0.5rem 0; border-radius: 6px; }`

const solvePageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Security Verification</title>
    <script src="` + TurnstileScriptURL + `" async defer></script>
    <style>` + pageStyle + `</style>
</head>
<body data-session-id="{{.SessionID}}">
    <div class="container">
        <h1>Security Verification</h1>
        <p>Complete the check below to continue.</p>
        <div class="cf-turnstile"
             data-sitekey="{{.Sitekey}}"
             data-theme="light"
             data-size="normal"
             {{- if .Action}} data-action="{{.Action}}"{{end}}
             {{- if .CData}} data-cdata="{{.CData}}"{{end}}
             data-callback="turnstileCallback"
             data-error-callback="turnstileError"
             data-expired-callback="turnstileExpired"
             data-timeout-callback="turnstileTimeout"></div>
        <div id="status" class="status">Waiting for verification...</div>
    </div>
    <script>
        const sessionId = {{.SessionID}};
        const statusEl = document.getElementById('status');
        let sent = false;
        let monitor = null;

        function setStatus(kind, text) {
            statusEl.className = 'status ' + kind;
            statusEl.textContent = text;
        }

        window.turnstileCallback = function (token) {
            if (sent || !token) return;
            sent = true;
            if (monitor) clearInterval(monitor);
            setStatus('success', 'Verification completed.');
            fetch('/token', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ sessionId: sessionId, token: token, timestamp: Date.now() })
            }).catch(function (e) { console.error(e); });
        };
        window.turnstileError = function (code) {
            setStatus('error', 'Verification failed: ' + code);
        };
        window.turnstileExpired = function () {
            setStatus('', 'Verification expired, retrying...');
        };
        window.turnstileTimeout = function () {
            setStatus('error', 'Verification timed out.');
        };

        window.addEventListener('load', function () {
            setTimeout(function () {
                monitor = setInterval(function () {
                    const field = document.querySelector('input[name="cf-turnstile-response"]');
                    if (field && field.value && field.value.length > 10) {
                        window.turnstileCallback(field.value);
                    }
                }, 500);
            }, 1000);
        });
    </script>
</body>
</html>`

const testPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Turnstile Test Page</title>
    <script src="` + TurnstileScriptURL + `" async defer></script>
    <style>` + pageStyle + `</style>
</head>
<body>
    <div class="container">
        <h1>Turnstile Test Page</h1>
        <p>This page uses the Cloudflare demo sitekey.</p>
        <div class="cf-turnstile"
             data-sitekey="{{.Sitekey}}"
             data-callback="onSuccess"
             data-error-callback="onError"
             data-theme="light"></div>
        <div id="status" class="status">Waiting for Turnstile...</div>
    </div>
    <script>
        function onSuccess(token) {
            const el = document.getElementById('status');
            el.className = 'status success';
            el.textContent = 'Success! Token: ' + token.substring(0, 50) + '...';
        }
        function onError(code) {
            const el = document.getElementById('status');
            el.className = 'status error';
            el.textContent = 'Error: ' + code;
        }
    </script>
</body>
</html>`

const indexPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Turnstile Solver Server</title>
    <style>` + pageStyle + `</style>
</head>
<body>
    <div class="container">
        <h1>Turnstile Solver Server</h1>
        <p>Local server for solving Cloudflare Turnstile challenges. Version {{.Version}}.</p>
        <h2>Endpoints</h2>
        <div class="endpoint"><strong>GET /solve?sitekey=&lt;key&gt;&amp;url=&lt;url&gt;[&amp;action=][&amp;cdata=]</strong><br>Create a solving session and serve the widget page</div>
        <div class="endpoint"><strong>GET /test</strong><br>Widget page using the demo sitekey</div>
        <div class="endpoint"><strong>GET /status?session=&lt;id&gt;</strong><br>Session record</div>
        <div class="endpoint"><strong>GET /session/&lt;id&gt;</strong><br>Session record</div>
        <div class="endpoint"><strong>POST /token</strong><br>Token callback used by the solving page</div>
        <h2>Example</h2>
        <code>{{.BaseURL}}/solve?sitekey=1x...&amp;url=https://example.com</code>
        <h2>Active sessions</h2>
        <p>Total: {{.Sessions}}</p>
    </div>
</body>
</html>`
