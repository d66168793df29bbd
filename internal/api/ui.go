package api

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"findoc/internal/record"
	"findoc/internal/task"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "layout"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .Refresh}}<meta http-equiv="refresh" content="5"/>{{end}}
  <title>Financial Document Analyzer</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    input[type=text]{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;width:100%}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .status.failed{background:#fde7e7}
    .status.completed{background:#e5f6e8}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/ui">Financial Document Analyzer</a></h1>
    <div class="muted">Minimal no-JS helper for the API</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  {{if .Task}}{{template "content-task" .}}{{else}}{{template "content-home" .}}{{end}}
  <footer>
    <div>API: <span class="mono">POST /analyze</span>, <span class="mono">GET /status/{task_id}</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "content-home"}}
  <div class="card">
    <h2>Analyze a document</h2>
    <form method="post" action="/ui/analyze" enctype="multipart/form-data">
      <div class="row">
        <input type="file" name="file" accept=".pdf" required />
      </div>
      <div class="row" style="margin-top:12px">
        <input type="text" name="query" placeholder="{{.DefaultQuery}}" />
      </div>
      <div style="margin-top:12px"><button class="btn" type="submit">Analyze</button></div>
    </form>
  </div>

  <div class="card">
    <h2>Open existing task</h2>
    <form method="get" action="/ui/tasks">
      <div class="row">
        <input type="text" name="id" placeholder="Task ID" required />
        <button class="btn" type="submit">Open</button>
      </div>
    </form>
  </div>
{{end}}

{{define "content-task"}}
  <div class="card">
    <h2>Task <span class="mono">{{.Task.TaskID}}</span></h2>
    <div>Status: <span class="status {{.Task.Status}}">{{.Task.Status}}</span></div>
    <div>File: <strong>{{.Task.FileName}}</strong></div>
    <div class="muted">Query: {{.Task.Query}}</div>
    <div style="margin-top:12px">
      <a class="btn secondary" href="/ui/tasks/{{.Task.TaskID}}">Refresh</a>
      {{if .Result}}<a class="btn" href="/report/{{.Task.TaskID}}" style="margin-left:8px">Download PDF</a>{{end}}
    </div>
  </div>
  {{if .Result}}
  <div class="card">
    <h3>Analysis</h3>
    {{.Result}}
  </div>
  {{end}}
  {{if .Task.Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <h3>Failure</h3>
    <div class="mono">{{.Task.Error}}</div>
  </div>
  {{end}}
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/ui", a.UIHome)
	router.POST("/ui/analyze", a.UIAnalyze)
	router.GET("/ui/tasks", a.UIOpenExisting)
	router.GET("/ui/tasks/:id", a.UITask)
}

type taskView struct {
	TaskID   string
	Status   string
	FileName string
	Query    string
	Error    string
}

// UIHome renders the upload page
func (a *API) UIHome(c *gin.Context) {
	c.HTML(http.StatusOK, "layout", gin.H{"DefaultQuery": task.DefaultQuery})
}

// UIOpenExisting redirects to the task page by id
func (a *API) UIOpenExisting(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.Redirect(http.StatusFound, "/ui")
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+id)
}

// UIAnalyze submits the uploaded form and redirects to the task page
func (a *API) UIAnalyze(c *gin.Context) {
	taskID, status, err := a.submitUpload(c)
	if err != nil {
		c.HTML(status, "layout", gin.H{"Error": err.Error(), "DefaultQuery": task.DefaultQuery})
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+taskID)
}

// UITask renders a task page, with the analysis rendered from markdown
func (a *API) UITask(c *gin.Context) {
	id := c.Param("id")
	rec, err := a.tasks.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.HTML(http.StatusNotFound, "layout", gin.H{"Error": "task not found", "DefaultQuery": task.DefaultQuery})
			return
		}
		requestLogger(c).Error().Str("task_id", id).Err(err).Msg("ui status lookup failed")
		c.HTML(http.StatusInternalServerError, "layout", gin.H{
			"Error":        "Error processing request: " + err.Error(),
			"DefaultQuery": task.DefaultQuery,
		})
		return
	}
	view := taskView{TaskID: rec.TaskID, Status: string(rec.Status), FileName: rec.FileName, Query: rec.Query}
	if rec.Error != nil {
		view.Error = *rec.Error
	}
	data := gin.H{"Task": view, "Refresh": rec.Status == record.StatusProcessing}
	if rec.Result != nil {
		data["Result"] = renderMarkdown(*rec.Result)
	}
	c.HTML(http.StatusOK, "layout", data)
}

// renderMarkdown converts model output to HTML. Raw HTML in the source is
// dropped by goldmark's default renderer.
func renderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		log.Warn().Err(err).Msg("render markdown failed")
		return template.HTML("<pre>" + template.HTMLEscapeString(src) + "</pre>") //nolint:gosec // escaped above
	}
	return template.HTML(buf.String()) //nolint:gosec // goldmark omits raw html unless WithUnsafe
}
