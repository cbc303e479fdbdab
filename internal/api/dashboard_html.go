package api

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>SCRAM Client Dashboard</title>
<style>
*,*::before,*::after{box-sizing:border-box;margin:0;padding:0}
:root{
  --bg:#0f1117;--bg-card:#161b22;--border:#30363d;--text:#e1e4e8;
  --text-muted:#8b949e;--green:#3fb950;--red:#f85149;--radius:8px;
}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;background:var(--bg);color:var(--text);line-height:1.5;min-height:100vh}
.container{max-width:1000px;margin:0 auto;padding:24px}
h1{font-size:20px;margin-bottom:16px}
.card{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);padding:16px;margin-bottom:16px}
.card h2{font-size:14px;color:var(--text-muted);text-transform:uppercase;letter-spacing:.05em;margin-bottom:12px}
table{width:100%;border-collapse:collapse;font-size:13px}
th,td{text-align:left;padding:6px 8px;border-bottom:1px solid var(--border)}
.status-healthy{color:var(--green)}
.status-unhealthy{color:var(--red)}
.muted{color:var(--text-muted)}
</style>
</head>
<body>
<div class="container">
  <h1>SCRAM Client Dashboard</h1>

  <div class="card">
    <h2>Self-Check</h2>
    <table id="mechanisms"><thead><tr><th>Mechanism</th><th>Status</th><th>Consecutive Failures</th><th>Last Check</th></tr></thead><tbody></tbody></table>
  </div>

  <div class="card">
    <h2>Secret Cache</h2>
    <table id="cache"><thead><tr><th>Key</th><th>Iterations</th><th>Last Access</th></tr></thead><tbody></tbody></table>
  </div>

  <div class="card">
    <h2>Process</h2>
    <table id="status"><tbody></tbody></table>
  </div>
</div>
<script>
async function refresh() {
  const [health, status, cache] = await Promise.all([
    fetch('/healthz').then(r => r.json()).catch(() => null),
    fetch('/status').then(r => r.json()).catch(() => null),
    fetch('/cache').then(r => r.json()).catch(() => []),
  ]);

  const mechBody = document.querySelector('#mechanisms tbody');
  mechBody.innerHTML = '';
  if (health && health.mechanisms) {
    for (const [name, m] of Object.entries(health.mechanisms)) {
      const cls = m.status === 1 ? 'status-healthy' : (m.status === 2 ? 'status-unhealthy' : 'muted');
      mechBody.innerHTML += '<tr><td>' + name + '</td><td class="' + cls + '">' + (m.status === 1 ? 'healthy' : m.status === 2 ? 'unhealthy' : 'unknown') + '</td><td>' + m.consecutive_failures + '</td><td>' + (m.last_check || '') + '</td></tr>';
    }
  }

  const cacheBody = document.querySelector('#cache tbody');
  cacheBody.innerHTML = '';
  for (const entry of (cache || [])) {
    cacheBody.innerHTML += '<tr><td>' + entry.key + '</td><td>' + entry.iterations + '</td><td>' + entry.last_access + '</td></tr>';
  }

  const statusBody = document.querySelector('#status tbody');
  statusBody.innerHTML = '';
  if (status) {
    for (const [k, v] of Object.entries(status)) {
      statusBody.innerHTML += '<tr><td>' + k + '</td><td>' + v + '</td></tr>';
    }
  }
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>`
