package http

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

// optionalPaths maps documented paths to the dependency that enables them.
var optionalPaths = map[string]func(Dependencies) bool{
	"/api/v1/sync": func(d Dependencies) bool { return d.Sync != nil },
}

// loadOpenAPI parses the embedded document once.
var loadOpenAPI = sync.OnceValues(func() (map[string]interface{}, error) {
	var doc interface{}
	if err := yaml.Unmarshal(openAPIYAML, &doc); err != nil {
		return nil, fmt.Errorf("parsing openapi.yaml: %w", err)
	}
	m, ok := jsonCompatible(doc).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("openapi.yaml: top level is %T, want a mapping", doc)
	}
	return m, nil
})

// openAPIDocument renders the API description as JSON, leaving out the
// paths this server does not route.
func openAPIDocument(deps Dependencies) ([]byte, error) {
	doc, err := loadOpenAPI()
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	if paths, ok := doc["paths"].(map[string]interface{}); ok {
		routed := make(map[string]interface{}, len(paths))
		for path, item := range paths {
			if enabled, optional := optionalPaths[path]; optional && !enabled(deps) {
				continue
			}
			routed[path] = item
		}
		out["paths"] = routed
	}
	return json.MarshalIndent(out, "", "  ")
}

// jsonCompatible converts YAML mappings with non-string keys, such as
// unquoted response codes, into string-keyed maps.
func jsonCompatible(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		for key, value := range v {
			v[key] = jsonCompatible(value)
		}
		return v
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			result[fmt.Sprint(key)] = jsonCompatible(value)
		}
		return result
	case []interface{}:
		for i, value := range v {
			v[i] = jsonCompatible(value)
		}
		return v
	default:
		return v
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>geosource API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        window.ui = SwaggerUIBundle({ url: '/openapi.json', dom_id: '#swagger-ui' });
    </script>
</body>
</html>`

// handleSwaggerUI serves Swagger UI pointed at /openapi.json.
func (s *Server) handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIHTML))
}
