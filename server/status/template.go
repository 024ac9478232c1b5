package status

import (
	"html/template"

	"github.com/serialusb/serialusbd-go/core"
)

type statusTemplateData struct {
	Version     string
	Devices     []core.DeviceInfo
	DeviceCount int
	Log         string
	CSRFField   template.HTML

	IsError bool
	Error   string
}

const templateString = `
<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no">
  <title>serialusbd status</title>
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", "Roboto", "Helvetica Neue", Arial, sans-serif;
    }

    h1 {
      font-size: 36px;
    }

    p {
      color: #858585;
    }

    .error {
      border: 1px solid orangered;
      border-radius: 4px;
      min-width: 320px;
      max-width: 500px;
      min-height: 33px;
      margin: 20px auto;
      color: darkred;
      padding: 13px;
    }

    .item {
      border: 1px solid lightgray;
      border-radius: 4px;
      min-width: 320px;
      max-width: 500px;
      margin: 20px auto;
      padding: 10px 20px;
      text-align: left;
    }

    pre {
      max-height: 400px;
      overflow-y: scroll;
      background: #f5f5f5;
      padding: 10px;
      text-align: left;
    }
  </style>
</head>
<body>
  <div style="text-align: center">
    <h1>serialusbd {{.Version}}</h1>

    {{if .IsError}}
    <div class="error">{{.Error}}</div>
    {{end}}

    <p>{{.DeviceCount}} device(s) attached</p>

    {{range .Devices}}
    <div class="item">
      <b>{{.Path}}</b><br>
      vendor {{printf "0x%04x" .VendorID}}, product {{printf "0x%04x" .ProductID}}<br>
      {{if .Serial}}serial {{.Serial}}<br>{{end}}
      {{if .Description}}{{.Description}}{{end}}
    </div>
    {{end}}

    <form action="/status/log.gz" method="POST">
      {{.CSRFField}}
      <button type="submit">Download detailed log</button>
    </form>

    <pre>{{.Log}}</pre>
  </div>
</body>
</html>
`

var statusTemplate = template.Must(template.New("status").Parse(templateString))
