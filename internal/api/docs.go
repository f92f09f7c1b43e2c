package api

// docsHTML renders the OpenAPI reference next to a panel describing the tab
// routes and the badge event stream, which the generated reference omits.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Overlay Agent API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { display: flex; height: 100vh; margin: 0; background: #0d1117; color: #c9d1d9;
      font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; }
    aside { width: 320px; flex: none; overflow-y: auto; padding: 16px 20px;
      border-right: 1px solid #30363d; font-size: 13px; line-height: 1.5; }
    aside h1 { font-size: 16px; margin: 0 0 12px; }
    aside h2 { font-size: 13px; margin: 18px 0 6px; color: #58a6ff; }
    aside code { background: #161b22; border-radius: 4px; padding: 1px 4px; }
    aside pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px;
      padding: 8px; overflow-x: auto; font-size: 12px; }
    aside ul { padding-left: 18px; margin: 4px 0; }
    main { flex: 1; position: relative; }
  </style>
</head>
<body>
  <aside>
    <h1>Overlay Agent</h1>
    <p>Drives the annotation overlay in the browser tabs this agent is attached to.
      Tab ids are the browser's CDP target ids.</p>

    <h2>Tabs</h2>
    <ul>
      <li><code>GET /api/v1/tabs</code> every open tab with its badge</li>
      <li><code>GET /api/v1/tabs/{tab_id}</code> one tab</li>
      <li><code>POST /api/v1/tabs/{tab_id}/toggle</code> same as a toolbar click;
        an errored tab answers with a help message and resets</li>
      <li><code>POST /api/v1/tabs/{tab_id}/activate</code> optional
        <code>query</code> such as <code>#annotations:ID</code> focuses one annotation</li>
      <li><code>POST /api/v1/tabs/{tab_id}/deactivate</code></li>
      <li><code>POST /api/v1/open</code> opens <code>url</code> in a new tab and
        activates once it has navigated there</li>
    </ul>

    <h2>Event stream</h2>
    <p><a href="/api/v1/events" style="color:#58a6ff">/api/v1/events</a> is a
      Server-Sent Events stream. Each change to a tab's badge is sent as an
      event of type <code>tab</code>. Pass <code>?tabs=ID1,ID2</code> to
      receive only those tabs.</p>
    <pre>event: tab
data: {"tab_id":"T1","icon":"active","text":"7",
  "title":"There are 7 annotations on this page","activation":"active",
  "installed":true,"ready":true,"annotation_count":7}</pre>
    <p>A closed tab is sent once more with icon <code>closed</code>.</p>

    <h2>Errors</h2>
    <p>Failures use <code>application/problem+json</code>. Unknown or closed
      tabs are 404. Pages the overlay can not run on are 422 with the reason
      in <code>detail</code>. Browser connection problems are 502, 503 or 504.</p>
  </aside>
  <main>
    <elements-api
      apiDescriptionUrl="/openapi.json"
      router="hash"
      layout="sidebar"
      tryItCredentialsPolicy="same-origin"
      darkMode
    />
  </main>
</body>
</html>`
