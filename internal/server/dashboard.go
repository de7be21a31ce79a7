package server

import (
	"html/template"
	"net/http"

	"dpr/internal/storage"
)

type dashboardData struct {
	Runs    []storage.RunRecord
	History bool
}

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"stamp": func(r storage.RunRecord) string { return r.CreatedAt.Format("2006-01-02 15:04:05") },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>DPR Runs</title>
    <style>
        :root {
            --bg-primary: #0f172a;
            --bg-secondary: #1e293b;
            --text-primary: #f8fafc;
            --text-secondary: #cbd5e1;
            --accent: #3b82f6;
            --success: #10b981;
            --warning: #f59e0b;
            --error: #ef4444;
            --border: #475569;
        }
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background: var(--bg-primary); color: var(--text-primary); }
        .header { background: var(--bg-secondary); padding: 1rem 2rem; border-bottom: 1px solid var(--border); }
        .logo { font-size: 1.5rem; font-weight: bold; color: var(--accent); }
        .card { background: var(--bg-secondary); border: 1px solid var(--border); border-radius: 8px; padding: 1.5rem; margin: 2rem; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 0.5rem; border-bottom: 1px solid var(--border); }
        th { color: var(--text-secondary); }
        .completed { color: var(--success); }
        .running, .queued { color: var(--warning); }
        .failed, .cancelled { color: var(--error); }
        .progress-bar { width: 100%; height: 6px; background: var(--border); border-radius: 3px; overflow: hidden; }
        .progress-fill { height: 100%; background: var(--accent); transition: width 0.3s ease; }
    </style>
</head>
<body>
    <header class="header"><div class="logo">DPR Runs</div></header>
    <div class="card">
        <h3>Live</h3>
        <div id="live"></div>
    </div>
    <div class="card">
        <h3>History</h3>
        {{if not .History}}<p>Run history is disabled.</p>{{else}}
        <table>
            <tr><th>ID</th><th>Source</th><th>Status</th><th>Created</th><th>Input</th><th>Error</th></tr>
            {{range .Runs}}
            <tr><td>{{.ID}}</td><td>{{.Source}}</td><td class="{{.Status}}">{{.Status}}</td><td>{{stamp .}}</td><td>{{.InputPath}}</td><td>{{.Error}}</td></tr>
            {{end}}
        </table>
        {{end}}
    </div>
    <script>
        const live = document.getElementById('live');
        const rows = {};
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
        ws.onmessage = (msg) => {
            const ev = JSON.parse(msg.data);
            let row = rows[ev.job_id];
            if (!row) {
                row = document.createElement('div');
                row.innerHTML = '<div class="label"></div><div class="progress-bar"><div class="progress-fill" style="width: 0%"></div></div>';
                live.prepend(row);
                rows[ev.job_id] = row;
            }
            const label = row.querySelector('.label');
            const fill = row.querySelector('.progress-fill');
            label.textContent = ev.job_id + ' ' + ev.type;
            if (ev.type === 'progress' && ev.total > 0) {
                fill.style.width = (100 * ev.current / ev.total) + '%';
                label.textContent = ev.job_id + ' slice ' + ev.current + '/' + ev.total;
            }
            if (ev.type === 'finished') {
                fill.style.width = '100%';
                if (ev.result) label.textContent = ev.job_id + ' ' + ev.result.status;
            }
        };
    </script>
</body>
</html>`))

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := dashboardData{History: s.store != nil}
	if s.store != nil {
		runs, err := s.store.RecentRuns(50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Runs = runs
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.log.Error("render dashboard", "error", err)
	}
}
