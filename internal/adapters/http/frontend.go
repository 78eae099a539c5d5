package http

import (
	"net/http"
)

// frontendHTML is a map viewer that loads the shapes of the selected source
// for the visible map area.
const frontendHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>geosource</title>
    <link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
    <style>
        :root {
            --primary: #2563eb;
            --error: #dc2626;
            --bg: #f8fafc;
            --text: #1e293b;
            --text-muted: #64748b;
            --border: #e2e8f0;
        }

        * { box-sizing: border-box; margin: 0; padding: 0; }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg);
            color: var(--text);
            display: flex;
            flex-direction: column;
            height: 100vh;
        }

        header {
            display: flex;
            flex-wrap: wrap;
            gap: 0.75rem;
            align-items: center;
            padding: 0.75rem 1rem;
            border-bottom: 1px solid var(--border);
        }

        header h1 { font-size: 1.1rem; font-weight: 600; }

        select, input, button {
            font: inherit;
            padding: 0.35rem 0.5rem;
            border: 1px solid var(--border);
            border-radius: 6px;
            background: #fff;
        }

        button { background: var(--primary); color: #fff; border: none; cursor: pointer; }

        #status { color: var(--text-muted); font-size: 0.9rem; }
        #status.error { color: var(--error); }
        #map { flex: 1; }
    </style>
</head>
<body>
    <header>
        <h1>geosource</h1>
        <select id="source" aria-label="Source"></select>
        <input id="filter" placeholder="filter value" aria-label="Filter value">
        <button id="reload" type="button">Reload</button>
        <span id="status"></span>
    </header>
    <div id="map"></div>

    <script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
    <script>
        (function() {
            'use strict';

            const sourceSelect = document.getElementById('source');
            const filterInput = document.getElementById('filter');
            const status = document.getElementById('status');

            const map = L.map('map').setView([51.16, 10.45], 6);
            L.tileLayer('https://tile.openstreetmap.org/{z}/{x}/{y}.png', {
                maxZoom: 19,
                attribution: '&copy; OpenStreetMap contributors'
            }).addTo(map);

            const layer = L.geoJSON(null, {
                onEachFeature: function(feature, l) {
                    const p = feature.properties || {};
                    l.bindPopup(escapeHtml(p.name || feature.id || ''));
                }
            }).addTo(map);

            let pending = null;

            function setStatus(text, isError) {
                status.textContent = text;
                status.classList.toggle('error', !!isError);
            }

            async function loadSources() {
                const response = await fetch('/api/v1/sources');
                const data = await response.json();
                sourceSelect.innerHTML = '';
                (data.sources || []).forEach(function(src) {
                    const opt = document.createElement('option');
                    opt.value = src.name;
                    opt.textContent = src.name + (src.ready ? '' : ' (' + src.status + ')');
                    sourceSelect.appendChild(opt);
                });
            }

            async function loadShapes() {
                const name = sourceSelect.value;
                if (!name) {
                    setStatus('No sources configured', true);
                    return;
                }

                const b = map.getBounds();
                const bbox = [b.getWest(), b.getSouth(), b.getEast(), b.getNorth()].join(',');
                let url = '/api/v1/sources/' + encodeURIComponent(name) + '/shapes?srs=EPSG:4326&bbox=' + bbox;
                if (filterInput.value) {
                    url += '&filter=' + encodeURIComponent(filterInput.value);
                }

                if (pending) {
                    pending.abort();
                }
                pending = new AbortController();
                setStatus('Loading...');

                try {
                    const response = await fetch(url, { signal: pending.signal });
                    if (!response.ok) {
                        let message = 'Request failed';
                        try {
                            message = (await response.json()).message || message;
                        } catch (parseErr) {
                            // not JSON
                        }
                        throw new Error(message);
                    }
                    const fc = await response.json();
                    layer.clearLayers();
                    layer.addData(fc);
                    setStatus(fc.features.length + ' feature(s)');
                } catch (err) {
                    if (err.name !== 'AbortError') {
                        setStatus(err.message, true);
                    }
                }
            }

            function escapeHtml(str) {
                return String(str)
                    .replace(/&/g, '&amp;')
                    .replace(/</g, '&lt;')
                    .replace(/>/g, '&gt;')
                    .replace(/"/g, '&quot;')
                    .replace(/'/g, '&#39;');
            }

            map.on('moveend', loadShapes);
            sourceSelect.addEventListener('change', loadShapes);
            document.getElementById('reload').addEventListener('click', loadShapes);

            loadSources().then(loadShapes).catch(function(err) {
                setStatus(err.message, true);
            });
        })();
    </script>
</body>
</html>`

// handleFrontend serves the map viewer.
func (s *Server) handleFrontend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(frontendHTML))
}
