// Package mapview renders the click history of a code as a leaflet map
// page.
package mapview

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/lexking/tracker/internal/event"
)

// Default center when no event carries coordinates: a Brazil-level
// centroid.
const (
	defaultCenterLat = -15.78
	defaultCenterLon = -47.92
)

// PageData is the renderer's input contract: the code and its ordered event
// list, plus the unique-IP count already computed by the query service.
type PageData struct {
	Code      string
	Events    []event.ClickEvent
	UniqueIPs int
}

type pageVars struct {
	Code      string
	Total     int
	UniqueIPs int
	Center    template.JS
	Logs      template.JS
}

// Render writes the map page for data. The script plots every event with
// non-null coordinates and fits the viewport when more than one point
// exists; the center falls back to the default when no event has
// coordinates.
func Render(w io.Writer, data PageData) error {
	lat, lon := center(data.Events)

	logs, err := json.Marshal(data.Events)
	if err != nil {
		return fmt.Errorf("failed to encode events for map: %w", err)
	}

	return page.Execute(w, pageVars{
		Code:      data.Code,
		Total:     len(data.Events),
		UniqueIPs: data.UniqueIPs,
		Center:    template.JS(fmt.Sprintf("[%g, %g]", lat, lon)),
		Logs:      template.JS(logs),
	})
}

// center picks the first event bearing both coordinates, else the default.
func center(events []event.ClickEvent) (float64, float64) {
	for _, ev := range events {
		if ev.Lat != nil && ev.Lon != nil {
			return *ev.Lat, *ev.Lon
		}
	}
	return defaultCenterLat, defaultCenterLon
}

var page = template.Must(template.New("map").Parse(`<!DOCTYPE html>
<html lang="pt-br">
<head>
<meta charset="utf-8">
<title>Mapa - {{.Code}}</title>
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<link href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css" rel="stylesheet">
<style>
  :root {
    --lex-orange: #ff7a18;
    --ink: #111;
    --paper: #0b0b0b;
    --muted: #999;
  }
  html,body { margin:0; height:100%; background:#0a0a0a; color:#eee; font-family: Inter, system-ui, Arial, sans-serif; }
  #map { height:100%; }
  .panel {
    position: absolute; top: 16px; right: 16px; z-index: 1000;
    background: rgba(15,15,15,.9); border:1px solid #222; border-radius:14px; padding:14px 16px;
    box-shadow: 0 10px 30px rgba(0,0,0,.4);
  }
  .panel h3 { margin:0 0 8px 0; font-size:15px; letter-spacing:.4px; color:#fff }
  .panel .pill { display:inline-block; padding:4px 8px; margin-right:6px; border-radius:999px; background:#161616; border:1px solid #262626; font-size:12px; color:#ddd }
  .panel .code { color: var(--lex-orange); font-weight:700; }
  .leaflet-container { background:#0e0e0e; }
  .leaflet-popup-content-wrapper, .leaflet-popup-tip { background:#101010; color:#eee; border:1px solid #222; }
  .brand {
    position: absolute; left: 16px; bottom: 16px; padding:6px 10px; border-radius:10px;
    background:linear-gradient(135deg, rgba(255,122,24,.15), rgba(255,122,24,.03));
    border:1px solid rgba(255,122,24,.25); color:#ffb37a; font-weight:600; letter-spacing:.4px;
  }
</style>
</head>
<body>
  <div id="map"></div>
  <div class="panel">
    <h3>📍 <span class="code">/t/{{.Code}}</span></h3>
    <div class="pill">Acessos: {{.Total}}</div>
    <div class="pill">IPs únicos: {{.UniqueIPs}}</div>
    <div class="pill">API: /api/logs/{{.Code}}</div>
  </div>
  <div class="brand">LEXKING · tracker</div>

  <script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
  <script>
    const logs = {{.Logs}};
    const map = L.map('map').setView({{.Center}}, 5);
    L.tileLayer('https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png', {
      attribution: '&copy; OpenStreetMap',
      maxZoom: 19
    }).addTo(map);

    const pts = [];
    logs.forEach(l => {
      if (l.lat != null && l.lon != null) {
        const m = L.marker([l.lat, l.lon]).addTo(map)
          .bindPopup(
            ` + "`" + `<b>${l.city || 'N/A'}${l.region ? ', ' + l.region : ''}${l.country ? ', ' + l.country : ''}</b><br>
               <b>IP:</b> ${l.ip || '-'}<br>
               <b>ISP/ASN:</b> ${l.isp || '-'} ${l.asn ? '(AS' + l.asn + ')' : ''}<br>
               <b>Data:</b> ${new Date(l.ts).toLocaleString('pt-BR')}` + "`" + `
          );
        pts.push([l.lat, l.lon]);
      }
    });
    if (pts.length > 1) map.fitBounds(pts, { padding: [40,40] });
  </script>
</body>
</html>`))
