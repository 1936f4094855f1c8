package payments

import (
	"html/template"
	"io"
)

var autoPostForm = template.Must(template.New("autopost").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Redirecting…</title>
  <style>
    body { font-family: -apple-system, system-ui, Segoe UI, Roboto, Arial; padding: 24px; }
    .box { max-width: 480px; margin: 40px auto; text-align: center; }
  </style>
</head>
<body>
  <div class="box">
    <h3>Redirecting to eSewa…</h3>
    <p>Please wait.</p>

    <form id="f" method="POST" action="{{.URL}}">
      {{range $k, $v := .Fields}}
        <input type="hidden" name="{{$k}}" value="{{$v}}">
      {{end}}
      <noscript><button type="submit">Continue</button></noscript>
    </form>

    <script>
      (function(){ document.getElementById('f').submit(); })();
    </script>
  </div>
</body>
</html>`))

// RenderAutoPostForm writes a page that immediately POSTs the signed fields to
// the gateway. The browser leaves the site; anything needed after the return
// must already be persisted.
func RenderAutoPostForm(w io.Writer, r *Redirect) error {
	return autoPostForm.Execute(w, r)
}
