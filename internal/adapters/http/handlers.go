package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/raster"
)

// handleHealth reports whether the configured catalog is reachable by
// listing its layers with a short deadline.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ids, err := s.catalog.Layers(ctx, s.location)
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"layers": len(ids),
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListLayers returns all layer identifiers in the catalog.
func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	ids, err := s.catalog.Layers(r.Context(), s.location)
	if err != nil {
		s.handleCatalogError(w, err)
		return
	}

	layers := make([]map[string]interface{}, len(ids))
	for i, id := range ids {
		layers[i] = map[string]interface{}{
			"name": id.Name,
			"zoom": id.Zoom,
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"layers": layers,
		"count":  len(layers),
	})
}

// handleMetadata returns the parsed metadata of one layer and zoom.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseLayerID(w, r)
	if !ok {
		return
	}

	md, err := s.catalog.Metadata(r.Context(), s.location, s.spatialType, id)
	if err != nil {
		s.handleCatalogError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      id.Name,
		"zoom":      id.Zoom,
		"crs":       md.CRS,
		"cell_type": md.CellType,
		"bounds": map[string]interface{}{
			"min_key": md.Bounds.MinKey,
			"max_key": md.Bounds.MaxKey,
		},
		"extent": map[string]interface{}{
			"min_x": md.Extent.MinX,
			"min_y": md.Extent.MinY,
			"max_x": md.Extent.MaxX,
			"max_y": md.Extent.MaxY,
		},
		"layout": map[string]interface{}{
			"layout_cols": md.Layout.LayoutCols,
			"layout_rows": md.Layout.LayoutRows,
			"tile_cols":   md.Layout.TileCols,
			"tile_rows":   md.Layout.TileRows,
		},
	})
}

// handleTile serves one tile. The default response is the binary tile
// encoding; ?format=json returns band values for inspection. A tile outside
// the layer's bounds or missing from storage is 404.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseLayerID(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	col, err := strconv.Atoi(vars["col"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid col")
		return
	}
	row, err := strconv.Atoi(vars["row"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid row")
		return
	}
	timeLabel := r.URL.Query().Get("time")

	tile, found, err := s.catalog.ReadTile(r.Context(), s.location, s.spatialType, id, col, row, timeLabel)
	if err != nil {
		s.handleCatalogError(w, err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "Tile not found")
		return
	}

	if r.URL.Query().Get("format") == "json" {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"col":       col,
			"row":       row,
			"cols":      tile.Cols,
			"rows":      tile.Rows,
			"cell_type": tile.CellType,
			"no_data":   tile.NoData,
			"bands":     tile.Bands,
		})
		return
	}

	data, err := raster.Encode(tile)
	if err != nil {
		s.logger.Error("tile encoding failed", "layer", id.Name, "zoom", id.Zoom, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Tile encoding failed")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// handleSwaggerUI serves a minimal Swagger UI page over the embedded spec.
func (s *Server) handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIPage))
}

const swaggerUIPage = `<!DOCTYPE html>
<html>
<head>
  <title>stratum API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: "/openapi.json", dom_id: "#swagger-ui"});
  </script>
</body>
</html>`

// parseLayerID extracts the layer name and zoom from the route variables.
func (s *Server) parseLayerID(w http.ResponseWriter, r *http.Request) (domain.LayerID, bool) {
	vars := mux.Vars(r)
	zoom, err := strconv.Atoi(vars["zoom"])
	if err != nil || zoom < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid zoom")
		return domain.LayerID{}, false
	}
	return domain.LayerID{Name: vars["name"], Zoom: zoom}, true
}

// handleCatalogError maps catalog errors to HTTP status codes.
func (s *Server) handleCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Layer not found")
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "Backend unavailable")
	default:
		s.logger.Error("catalog error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Catalog operation failed")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
