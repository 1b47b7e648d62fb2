package health

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// RenderDashboardHTML returns the status page served at GET /. The collected result is embedded
// for the first paint; the page then polls /health/json.
func RenderDashboardHTML(health CollectResult) string {
	b, _ := json.Marshal(health)
	jsonStr := string(b)
	// escape for a JS template literal
	jsonStr = strings.ReplaceAll(jsonStr, "\\", "\\\\")
	jsonStr = strings.ReplaceAll(jsonStr, "`", "\\`")
	jsonStr = strings.ReplaceAll(jsonStr, "$", "\\$")

	lastReq := "-"
	if m, ok := health.Traffic.LastRequest.(map[string]interface{}); ok {
		lastReq = fmt.Sprintf("%v %v", m["method"], m["path"])
	}
	headline := "All Systems Operational"
	if health.Status != "ok" {
		headline = "System Issues Detected"
	}

	var deps strings.Builder
	for _, name := range []string{"database", "redis", "erpnext"} {
		d := health.Dependencies[name]
		fmt.Fprintf(&deps, `<div class="row"><span>%s</span><span id="dep-%s" class="pill">%s</span></div>`,
			name, name, html.EscapeString(d.Status))
	}

	return `<!DOCTYPE html>
<html lang="ko">
<head>
  <meta charset="UTF-8">
  <title>IBMS · API Status</title>
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <style>
    body { background: #f5f7fa; color: #1f2a37; font-family: system-ui, sans-serif; margin: 0; display: flex; justify-content: center; }
    .container { width: 100%; max-width: 960px; padding: 40px 20px; }
    h1 { font-size: 40px; margin: 0 0 24px; }
    .grid { display: grid; grid-template-columns: repeat(3, 1fr); gap: 16px; }
    .card { background: #fff; border-radius: 16px; padding: 24px; box-shadow: 0 8px 30px rgba(0,0,0,0.05); }
    .label { text-transform: uppercase; font-size: 11px; font-weight: 800; letter-spacing: 2px; color: #94a3b8; margin-bottom: 16px; }
    .big { font-size: 32px; font-weight: 800; margin-bottom: 8px; }
    .row { display: flex; justify-content: space-between; padding: 6px 0; font-size: 14px; border-bottom: 1px solid #f1f5f9; }
    .pill { font-weight: 800; }
    #errors { margin-top: 24px; white-space: pre-wrap; font-family: monospace; font-size: 12px; }
    @media (max-width: 800px) { .grid { grid-template-columns: 1fr; } }
  </style>
</head>
<body>
  <div class="container">
    <h1 id="headline">` + headline + `</h1>
    <div class="grid">
      <div class="card">
        <div class="label">Traffic</div>
        <div class="big" id="total-req">` + fmt.Sprint(health.Traffic.TotalRequests) + `</div>
        <div class="row"><span>Failed</span><span id="failed-count">` + fmt.Sprint(health.Traffic.FailedCount) + `</span></div>
        <div class="row"><span>Success Rate</span><span id="success-rate">` + health.Traffic.SuccessRate + `%</span></div>
        <div class="row"><span>Avg Latency</span><span id="avg-time">` + fmt.Sprint(health.Traffic.AvgResponseTime) + `ms</span></div>
        <div class="row"><span>Last</span><span id="last-req">` + html.EscapeString(lastReq) + `</span></div>
      </div>
      <div class="card">
        <div class="label">Runtime</div>
        <div class="big" id="uptime">` + fmt.Sprint(health.Runtime.UptimeSeconds) + `s</div>
        <div class="row"><span>Heap Used</span><span id="mem-heap">` + fmt.Sprint(health.Runtime.Memory.HeapUsed) + ` MB</span></div>
        <div class="row"><span>Goroutines</span><span id="goroutines">` + fmt.Sprint(health.Runtime.Goroutines) + `</span></div>
        <div class="row"><span>Platform</span><span>` + health.Runtime.Platform + `</span></div>
      </div>
      <div class="card">
        <div class="label">Dependencies</div>
        ` + deps.String() + `
      </div>
    </div>
    <button onclick="showErrors()">View Error Log</button>
    <div id="errors"></div>
  </div>
  <script>
    const render = (d) => {
      document.getElementById('headline').innerText = d.status === 'ok' ? 'All Systems Operational' : 'System Issues Detected';
      document.getElementById('total-req').innerText = d.traffic.totalRequests;
      document.getElementById('failed-count').innerText = d.traffic.failedCount;
      document.getElementById('success-rate').innerText = d.traffic.successRate + '%';
      document.getElementById('avg-time').innerText = d.traffic.avgResponseTime + 'ms';
      document.getElementById('uptime').innerText = d.runtime.uptimeSeconds + 's';
      document.getElementById('mem-heap').innerText = d.runtime.memory.heapUsed + ' MB';
      document.getElementById('goroutines').innerText = d.runtime.goroutines;
      for (const [name, dep] of Object.entries(d.dependencies)) {
        const el = document.getElementById('dep-' + name);
        if (el) el.innerText = dep.status + (dep.pingMs != null ? ' · ' + dep.pingMs + ' ms' : '');
      }
    };
    async function tick() { try { const r = await fetch('/health/json'); render(await r.json()); } catch (e) {} }
    async function showErrors() {
      const box = document.getElementById('errors');
      try { const r = await fetch('/health/errors'); const list = await r.json(); box.innerText = list.length ? list.map(e => e.time + ' ' + (e.method || '') + ' ' + (e.path || '') + '\n  ' + (e.message || '')).join('\n') : 'No internal errors recorded.'; }
      catch (e) { box.innerText = 'Error loading logs.'; }
    }
    render(JSON.parse(` + "`" + jsonStr + "`" + `));
    setInterval(tick, 15000);
  </script>
</body>
</html>`
}
