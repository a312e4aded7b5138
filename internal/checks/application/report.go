package application

import (
	"bufio"
	"encoding/json"
	"html/template"
	"io"
	"strings"
	"time"
)

// testEvent is one line of `go test -json` output.
type testEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// TestResult is the outcome of one test or subtest.
type TestResult struct {
	Name    string
	Action  string
	Elapsed float64
	Output  string
}

// PackageResult groups the tests of one package.
type PackageResult struct {
	Name    string
	Action  string
	Elapsed float64
	Tests   []*TestResult
	Output  string
}

// TestSummary is the parsed test run.
type TestSummary struct {
	Packages []*PackageResult
	Passed   int
	Failed   int
	Skipped  int
	// Other holds lines that were not test events, such as build errors.
	Other       []string
	GeneratedAt time.Time
}

// Total returns the number of finished tests.
func (s TestSummary) Total() int {
	return s.Passed + s.Failed + s.Skipped
}

// OK reports whether nothing failed.
func (s TestSummary) OK() bool {
	if s.Failed > 0 {
		return false
	}
	for _, pkg := range s.Packages {
		if pkg.Action == "fail" {
			return false
		}
	}
	return true
}

// ParseTestEvents reads a `go test -json` stream.
func ParseTestEvents(r io.Reader) (TestSummary, error) {
	summary := TestSummary{}
	packages := make(map[string]*PackageResult)
	tests := make(map[string]*TestResult)
	outputs := make(map[*TestResult]*strings.Builder)
	pkgOutputs := make(map[*PackageResult]*strings.Builder)

	pkgFor := func(name string) *PackageResult {
		pkg, ok := packages[name]
		if !ok {
			pkg = &PackageResult{Name: name}
			packages[name] = pkg
			pkgOutputs[pkg] = &strings.Builder{}
			summary.Packages = append(summary.Packages, pkg)
		}
		return pkg
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		var ev testEvent
		if !strings.HasPrefix(line, "{") || json.Unmarshal([]byte(line), &ev) != nil || ev.Action == "" {
			if strings.TrimSpace(line) != "" {
				summary.Other = append(summary.Other, line)
			}
			continue
		}
		if ev.Package == "" {
			continue
		}
		pkg := pkgFor(ev.Package)
		if ev.Test == "" {
			switch ev.Action {
			case "output":
				pkgOutputs[pkg].WriteString(ev.Output)
			case "pass", "fail", "skip":
				pkg.Action = ev.Action
				pkg.Elapsed = ev.Elapsed
			}
			continue
		}

		key := ev.Package + "\x00" + ev.Test
		test, ok := tests[key]
		if !ok {
			test = &TestResult{Name: ev.Test}
			tests[key] = test
			outputs[test] = &strings.Builder{}
			pkg.Tests = append(pkg.Tests, test)
		}
		switch ev.Action {
		case "output":
			outputs[test].WriteString(ev.Output)
		case "pass":
			summary.Passed++
			test.Action, test.Elapsed = ev.Action, ev.Elapsed
		case "fail":
			summary.Failed++
			test.Action, test.Elapsed = ev.Action, ev.Elapsed
		case "skip":
			summary.Skipped++
			test.Action, test.Elapsed = ev.Action, ev.Elapsed
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, err
	}
	for test, b := range outputs {
		test.Output = b.String()
	}
	for pkg, b := range pkgOutputs {
		pkg.Output = b.String()
	}
	return summary, nil
}

var reportTemplate = template.Must(template.New("report").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Unit test report</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
.pass { color: #1c5a2a; } .fail { color: #8a1c1c; } .skip { color: #8a6d1c; }
pre { background: #f6f6f6; padding: .5rem; white-space: pre-wrap; }
table { border-collapse: collapse; } td, th { border: 1px solid #ccc; padding: .25rem .5rem; }
</style>
</head>
<body>
<h1>Unit test report</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>
<p class="{{if .OK}}pass{{else}}fail{{end}}">{{.Total}} tests: {{.Passed}} passed, {{.Failed}} failed, {{.Skipped}} skipped</p>
{{if .Other}}<h2>Build output</h2>
<pre>{{range .Other}}{{.}}
{{end}}</pre>{{end}}
{{range .Packages}}
<h2 class="{{.Action}}">{{.Name}} ({{.Action}}, {{printf "%.2f" .Elapsed}}s)</h2>
{{if .Tests}}<table>
<tr><th>Test</th><th>Result</th><th>Seconds</th></tr>
{{range .Tests}}<tr><td>{{.Name}}</td><td class="{{.Action}}">{{.Action}}</td><td>{{printf "%.2f" .Elapsed}}</td></tr>
{{if eq .Action "fail"}}<tr><td colspan="3"><pre>{{.Output}}</pre></td></tr>{{end}}
{{end}}</table>{{end}}
{{end}}
</body>
</html>
`))

// RenderTestReport writes summary as a self-contained HTML page.
func RenderTestReport(w io.Writer, summary TestSummary) error {
	return reportTemplate.Execute(w, summary)
}
