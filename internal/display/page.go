package display

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>drishti</title>
<style>
body { background: #111; color: #ddd; font-family: sans-serif; margin: 0; display: flex; }
main { padding: 12px; }
img { max-width: 100%; border: 1px solid #333; }
aside { width: 340px; padding: 12px; height: 100vh; overflow-y: auto; font-size: 13px; }
button { background: #a22; color: #fff; border: 0; padding: 8px 16px; cursor: pointer; }
.spoken { color: #7cf; } .annotation { color: #9c9; } .command { color: #fc6; } .shutdown { color: #f66; }
</style>
</head>
<body>
<main>
<img src="/stream" alt="preview">
<p><button onclick="fetch('/quit', {method: 'POST'})">Quit</button></p>
</main>
<aside id="log"></aside>
<script>
const log = document.getElementById('log');
const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/events');
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data);
  const line = document.createElement('div');
  line.className = ev.type;
  const t = new Date(ev.timestamp).toLocaleTimeString();
  line.textContent = t + ' ' + ev.type + ': ' + (ev.text || ev.caption || ev.command || '');
  log.prepend(line);
};
</script>
</body>
</html>
`
